// Package channel implements the Message Channel: AEAD
// encryption/decryption over an established session using
// ChaCha20-Poly1305 with a random 96-bit nonce and empty associated data.
package channel

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/duskwire/duskwire/internal/codec"
	"github.com/duskwire/duskwire/internal/events"
	"github.com/duskwire/duskwire/internal/session"
)

// Sentinel errors for the message channel.
var (
	// ErrNoSession is returned by EncryptAndSend when the peer has no
	// Established session; the caller is responsible for queueing the
	// plaintext and initiating a handshake.
	ErrNoSession = errors.New("channel: no established session with peer")
	// ErrAeadAuth marks an AEAD authentication failure; callers should
	// treat it as "drop silently", never report it back to the peer
	// (avoiding an oracle).
	ErrAeadAuth = errors.New("channel: AEAD authentication failed")
)

// SendFunc transmits an already-encoded ciphertext payload to peer.
type SendFunc func(peer session.PeerName, payload json.RawMessage) error

// LogFunc appends an opaque (nonce, ciphertext, no-plaintext) record for an
// outbound message (message log format).
type LogFunc func(from, to session.PeerName, nonce [12]byte, ciphertext []byte)

// NotifyFunc delivers a decrypted message event to the embedder.
type NotifyFunc func(events.Event)

// Channel encrypts outbound plaintext and decrypts inbound ciphertext for
// a single local identity against its Session Table.
type Channel struct {
	self   session.PeerName
	table  *session.Table
	send   SendFunc
	logMsg LogFunc
	notify NotifyFunc
}

// NewChannel constructs a Message Channel bound to self's Session Table.
func NewChannel(self session.PeerName, table *session.Table, send SendFunc, logMsg LogFunc, notify NotifyFunc) *Channel {
	return &Channel{self: self, table: table, send: send, logMsg: logMsg, notify: notify}
}

// EncryptAndSend seals plaintext for peer and relays the ciphertext.
// Returns ErrNoSession if no Established session exists yet.
func (c *Channel) EncryptAndSend(peer session.PeerName, plaintext []byte) error {
	sess := c.table.Get(peer)
	if sess == nil || sess.State != session.Established || sess.SymmetricKey == nil {
		return ErrNoSession
	}

	aead, err := chacha20poly1305.New(sess.SymmetricKey[:])
	if err != nil {
		return fmt.Errorf("channel: constructing AEAD: %w", err)
	}

	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("channel: generating nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce[:], plaintext, nil)

	if err := c.send(peer, codec.EncodeCiphertextPayload(nonce, ct)); err != nil {
		return fmt.Errorf("channel: relaying ciphertext: %w", err)
	}

	if c.logMsg != nil {
		c.logMsg(c.self, peer, nonce, ct)
	}
	return nil
}

// Decrypt opens an inbound ciphertext payload from peer. If no Established
// session exists the payload is dropped without auto-initiating a
// handshake (avoiding an amplification loop from
// attacker-supplied ciphertexts). An AEAD tag failure is dropped silently
// with no negative-acknowledgement to the peer.
func (c *Channel) Decrypt(peer session.PeerName, raw json.RawMessage) {
	sess := c.table.Get(peer)
	if sess == nil || sess.State != session.Established || sess.SymmetricKey == nil {
		log.Printf("[channel] dropping ciphertext from %s: no established session", peer)
		return
	}

	decoded, err := codec.DecodeCiphertextPayload(raw)
	if err != nil {
		log.Printf("[channel] malformed ciphertext from %s: %v", peer, err)
		return
	}

	aead, err := chacha20poly1305.New(sess.SymmetricKey[:])
	if err != nil {
		log.Printf("[channel] constructing AEAD for %s: %v", peer, err)
		return
	}

	plaintext, err := aead.Open(nil, decoded.Nonce[:], decoded.CT, nil)
	if err != nil {
		log.Printf("[channel] %v from %s", ErrAeadAuth, peer)
		return
	}

	c.notify(events.Event{Kind: events.KindMessage, Peer: string(peer), Text: string(plaintext)})
}
