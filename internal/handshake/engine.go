// Package handshake drives the two-flight signed X25519 key exchange
// a signed ephemeral public key in each direction,
// HKDF-SHA256 session-key derivation, and the tie-break policy for
// concurrent initiations.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"golang.org/x/crypto/curve25519"

	"github.com/duskwire/duskwire/internal/codec"
	"github.com/duskwire/duskwire/internal/events"
	"github.com/duskwire/duskwire/internal/identity"
	"github.com/duskwire/duskwire/internal/kdf"
	"github.com/duskwire/duskwire/internal/session"
)

// SendFunc transmits an already-encoded handshake_init/handshake inner
// payload to peer via the Relay Adapter.
type SendFunc func(peer session.PeerName, kind string, payload json.RawMessage) error

// NotifyFunc delivers an event to the embedder's Event Sink.
type NotifyFunc func(events.Event)

// FlushFunc is invoked once a peer's session reaches Established, after
// notify has fired, so the owning event loop can drain and send any
// messages queued in PendingOutbound.
type FlushFunc func(peer session.PeerName)

// Engine implements the initiator and responder flows against
// a single Session Table. It is safe to use only from the owning
// event-loop goroutine (see internal/core).
type Engine struct {
	self     session.PeerName
	identity *identity.Identity
	table    *session.Table
	send     SendFunc
	notify   NotifyFunc
	flush    FlushFunc
}

// NewEngine constructs a Handshake Engine bound to self's identity and
// Session Table. flush is called with the peer name immediately after a
// session transitions to Established, so queued outbound messages can be
// delivered in enqueue order.
func NewEngine(self session.PeerName, id *identity.Identity, table *session.Table, send SendFunc, notify NotifyFunc, flush FlushFunc) *Engine {
	return &Engine{self: self, identity: id, table: table, send: send, notify: notify, flush: flush}
}

// InitiateHandshake begins (or supersedes) a handshake attempt with peer:
// it generates a fresh ephemeral keypair, signs it, transitions the
// session to InitiatorPending, and relays handshake_init.
func (e *Engine) InitiateHandshake(peer session.PeerName) error {
	esk, epk, err := generateEphemeral()
	if err != nil {
		return fmt.Errorf("handshake: generating ephemeral: %w", err)
	}

	sig := e.identity.Sign(epk[:])

	sess := e.table.Get(peer)
	if sess == nil {
		sess = &session.Session{}
	} else {
		sess.ZeroEphemeral()
	}
	sess.State = session.InitiatorPending
	sess.OwnEphemeralPrivate = &esk
	sess.SymmetricKey = nil
	e.table.Upsert(peer, sess)

	payload := codec.EncodeHandshakePayload(codec.KindHandshakeInit, e.identity.Public(), epk, sig)
	return e.send(peer, codec.KindHandshakeInit, payload)
}

// HandleHandshakeInit implements the responder flow. A
// signature failure drops the frame without mutating session state. On
// success it unconditionally installs the derived key, overwriting any
// prior InitiatorPending ephemeral — the concurrent-initiation tie-break
// policy documented in DESIGN.md.
func (e *Engine) HandleHandshakeInit(sender session.PeerName, raw json.RawMessage) {
	decoded, err := codec.DecodeHandshakePayload(raw)
	if err != nil {
		log.Printf("[handshake] malformed handshake_init from %s: %v", sender, err)
		return
	}

	if !verify(decoded) {
		log.Printf("[handshake] InvalidSignature on handshake_init from %s", sender)
		return
	}

	esk, epk, err := generateEphemeral()
	if err != nil {
		log.Printf("[handshake] generating responder ephemeral for %s: %v", sender, err)
		return
	}
	sig := e.identity.Sign(epk[:])

	payload := codec.EncodeHandshakePayload(codec.KindHandshake, e.identity.Public(), epk, sig)
	if err := e.send(sender, codec.KindHandshake, payload); err != nil {
		log.Printf("[handshake] relaying handshake reply to %s: %v", sender, err)
		return
	}

	ss := sharedSecret(esk, decoded.Ephemeral)
	zero(&esk)

	key, err := kdf.Derive(ss, sessionInfo(e.self, sender, e.identity.Public(), decoded.Identity))
	if err != nil {
		log.Printf("[handshake] HkdfError deriving session key with %s: %v", sender, err)
		return
	}

	var pending [][]byte
	if existing := e.table.Get(sender); existing != nil {
		pending = existing.PendingOutbound
		existing.ZeroEphemeral()
	}
	e.table.Upsert(sender, &session.Session{State: session.Established, SymmetricKey: &key, PendingOutbound: pending})
	e.notify(events.Event{Kind: events.KindHandshakeSuccess, Peer: string(sender)})
	if e.flush != nil {
		e.flush(sender)
	}
}

// HandleHandshake implements initiator completion. A reply
// from a peer we are not InitiatorPending with, or with no own ephemeral,
// is silently dropped.
func (e *Engine) HandleHandshake(sender session.PeerName, raw json.RawMessage) {
	decoded, err := codec.DecodeHandshakePayload(raw)
	if err != nil {
		log.Printf("[handshake] malformed handshake from %s: %v", sender, err)
		return
	}

	if !verify(decoded) {
		log.Printf("[handshake] InvalidSignature on handshake from %s", sender)
		return
	}

	sess := e.table.Get(sender)
	if sess == nil || sess.State != session.InitiatorPending || sess.OwnEphemeralPrivate == nil {
		log.Printf("[handshake] dropping unsolicited/replayed handshake from %s", sender)
		return
	}

	ss := sharedSecret(*sess.OwnEphemeralPrivate, decoded.Ephemeral)

	key, err := kdf.Derive(ss, sessionInfo(e.self, sender, e.identity.Public(), decoded.Identity))
	if err != nil {
		log.Printf("[handshake] HkdfError deriving session key with %s: %v", sender, err)
		return
	}

	sess.ZeroEphemeral()
	sess.State = session.Established
	sess.SymmetricKey = &key

	e.notify(events.Event{Kind: events.KindHandshakeSuccess, Peer: string(sender)})
	if e.flush != nil {
		e.flush(sender)
	}
}

func verify(d *codec.DecodedHandshake) bool {
	return ed25519.Verify(ed25519.PublicKey(d.Identity[:]), d.Ephemeral[:], d.Sig)
}

func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

func sharedSecret(priv, pub [32]byte) [32]byte {
	var out [32]byte
	curve25519.ScalarMult(&out, &priv, &pub)
	return out
}

func zero(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}

// sessionInfo builds the HKDF domain-separation context:
// "session:" || join("|", sort([A, B])) with both identity public keys'
// SHA-256 digests appended in the same sorted order, so both roles derive
// an identical string, binding the derived key to both identities rather
// than just their usernames.
func sessionInfo(self, peer session.PeerName, selfIdpk, peerIdpk [32]byte) []byte {
	type party struct {
		name string
		idpk [32]byte
	}
	parties := []party{
		{name: string(self), idpk: selfIdpk},
		{name: string(peer), idpk: peerIdpk},
	}
	sort.Slice(parties, func(i, j int) bool { return parties[i].name < parties[j].name })

	h0 := sha256.Sum256(parties[0].idpk[:])
	h1 := sha256.Sum256(parties[1].idpk[:])

	return []byte(fmt.Sprintf("session:%s|%s|%s|%s",
		parties[0].name, parties[1].name, hex.EncodeToString(h0[:]), hex.EncodeToString(h1[:])))
}
