// Package events defines the callback surface through which the core
// notifies its embedder of handshake completion, decrypted messages, and
// broker system notices.
package events

import "context"

// Kind discriminates the event payloads the core can emit.
type Kind string

const (
	// KindHandshakeSuccess fires once a session reaches Established.
	KindHandshakeSuccess Kind = "handshake_success"
	// KindMessage carries a decrypted plaintext delivered from a peer.
	KindMessage Kind = "message"
	// KindSystem carries an opaque broker notice (e.g. presence updates).
	KindSystem Kind = "system"
)

// Event is the single record shape delivered to a Sink.
type Event struct {
	Kind Kind
	Peer string // populated for KindHandshakeSuccess and KindMessage
	Text string // decrypted plaintext (KindMessage) or notice body (KindSystem)
}

// SyncSink is called directly on the core's event-loop goroutine; it must
// not block on anything beyond its own (presumably cheap) work.
type SyncSink interface {
	Notify(evt Event)
}

// AsyncSink is awaited off the event-loop goroutine: the core launches it
// and does not wait for it before processing the next event, so a slow
// embedder callback cannot stall handshake or message delivery.
type AsyncSink interface {
	NotifyAsync(ctx context.Context, evt Event) error
}

// SyncFunc adapts a plain function to SyncSink.
type SyncFunc func(Event)

// Notify implements SyncSink.
func (f SyncFunc) Notify(evt Event) { f(evt) }

// AsyncFunc adapts a plain function to AsyncSink.
type AsyncFunc func(context.Context, Event) error

// NotifyAsync implements AsyncSink.
func (f AsyncFunc) NotifyAsync(ctx context.Context, evt Event) error { return f(ctx, evt) }
