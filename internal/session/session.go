// Package session owns the per-peer Session Table. It is
// touched only from the single event-loop goroutine of internal/core, so no
// locking is required.
package session

// PeerName identifies a peer in the broker's namespace. Equality is
// byte-exact.
type PeerName string

// State is the handshake lifecycle of a Session.
type State int

const (
	// None is the zero value: no handshake has been attempted.
	None State = iota
	// InitiatorPending means we sent handshake_init and are awaiting a reply.
	InitiatorPending
	// ResponderPending is transient: the responder flow completes within a
	// single synchronous step, so this state is never
	// observable from outside the handshake engine, but is named here to
	// keep the state space exactly as the data model describes it.
	ResponderPending
	// Established means symmetric_key is installed and usable.
	Established
)

// Session is the per-peer record tracked for one peer. Exactly one of
// OwnEphemeralPrivate (pre-establishment) or SymmetricKey (post-
// establishment) is populated at any time.
type Session struct {
	State State

	// OwnEphemeralPrivate is present only while State == InitiatorPending.
	OwnEphemeralPrivate *[32]byte

	// SymmetricKey is present only while State == Established.
	SymmetricKey *[32]byte

	// PendingOutbound holds plaintext messages queued before establishment,
	// in submission order (ordering guarantees).
	PendingOutbound [][]byte
}

// ZeroEphemeral overwrites the ephemeral private scalar so it does not
// linger in memory after a state transition.
func (s *Session) ZeroEphemeral() {
	if s.OwnEphemeralPrivate != nil {
		for i := range s.OwnEphemeralPrivate {
			s.OwnEphemeralPrivate[i] = 0
		}
		s.OwnEphemeralPrivate = nil
	}
}

// Table maps PeerName to Session. All operations are expected to run on a
// single goroutine; see internal/core for the owning event loop.
type Table struct {
	sessions map[PeerName]*Session
}

// NewTable constructs an empty Session Table.
func NewTable() *Table {
	return &Table{sessions: make(map[PeerName]*Session)}
}

// Get returns the session for peer, or nil if none exists yet.
func (t *Table) Get(peer PeerName) *Session {
	return t.sessions[peer]
}

// Upsert installs sess as the current record for peer, replacing any
// existing one (used by both the initiator-supersedure and
// responder-overwrite paths).
func (t *Table) Upsert(peer PeerName, sess *Session) {
	t.sessions[peer] = sess
}

// Remove deletes any session record for peer.
func (t *Table) Remove(peer PeerName) {
	delete(t.sessions, peer)
}

// HasEstablished reports whether peer currently has an Established session.
func (t *Table) HasEstablished(peer PeerName) bool {
	sess := t.sessions[peer]
	return sess != nil && sess.State == Established
}

// EnqueueOutbound appends plaintext to peer's pending-outbound queue,
// creating a None-state session if one does not yet exist.
func (t *Table) EnqueueOutbound(peer PeerName, plaintext []byte) {
	sess := t.sessions[peer]
	if sess == nil {
		sess = &Session{}
		t.sessions[peer] = sess
	}
	sess.PendingOutbound = append(sess.PendingOutbound, plaintext)
}

// DrainOutbound removes and returns peer's queued plaintext messages in
// enqueue order.
func (t *Table) DrainOutbound(peer PeerName) [][]byte {
	sess := t.sessions[peer]
	if sess == nil {
		return nil
	}
	out := sess.PendingOutbound
	sess.PendingOutbound = nil
	return out
}
