// Package core wires identity, session, handshake, channel, relay, and
// message-log components into a single-threaded event loop:
// one goroutine (Run) owns the Session Table and all mutable state, with
// every embedder call serialized onto it through a command channel and
// every inbound frame received from the Relay Adapter's inbound channel in
// the same select loop.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/duskwire/duskwire/internal/channel"
	"github.com/duskwire/duskwire/internal/codec"
	"github.com/duskwire/duskwire/internal/events"
	"github.com/duskwire/duskwire/internal/handshake"
	"github.com/duskwire/duskwire/internal/identity"
	"github.com/duskwire/duskwire/internal/msglog"
	"github.com/duskwire/duskwire/internal/relay"
	"github.com/duskwire/duskwire/internal/session"
)

// ErrUnknownSink is returned by RegisterSink when the argument implements
// neither events.SyncSink nor events.AsyncSink.
var ErrUnknownSink = errors.New("core: sink implements neither SyncSink nor AsyncSink")

// asyncSinkTimeout bounds how long an AsyncSink callback may run before
// its context is cancelled; it never blocks the event-loop goroutine.
const asyncSinkTimeout = 30 * time.Second

// Client is the embedder-facing handle for one local identity: the
// external API surface (InitiateHandshake, SendMessage,
// HasSession, RegisterSink, Run, Close).
type Client struct {
	self     session.PeerName
	identity *identity.Identity
	table    *session.Table
	hsEngine *handshake.Engine
	channel  *channel.Channel
	adapter  *relay.Adapter
	msglog   *msglog.Log

	sinkMu     sync.RWMutex
	syncSinks  []events.SyncSink
	asyncSinks []events.AsyncSink

	cmds chan func()
	done chan struct{}
}

// NewClient constructs a Client for self, wiring the Handshake Engine and
// Message Channel to send through adapter and, if log is non-nil, append
// outbound ciphertext records to it.
func NewClient(self session.PeerName, id *identity.Identity, adapter *relay.Adapter, log_ *msglog.Log) *Client {
	c := &Client{
		self:     self,
		identity: id,
		table:    session.NewTable(),
		adapter:  adapter,
		msglog:   log_,
		cmds:     make(chan func()),
		done:     make(chan struct{}),
	}

	hsSend := func(peer session.PeerName, _ string, payload json.RawMessage) error {
		return c.adapter.Send(context.Background(), peer, payload)
	}

	chSend := func(peer session.PeerName, payload json.RawMessage) error {
		return c.adapter.Send(context.Background(), peer, payload)
	}
	chLog := func(from, to session.PeerName, nonce [12]byte, ciphertext []byte) {
		if c.msglog == nil {
			return
		}
		if err := c.msglog.Append(string(from), string(to), nonce, ciphertext, time.Now()); err != nil {
			log.Printf("[core] message log append failed: %v", err)
		}
	}
	c.channel = channel.NewChannel(self, c.table, chSend, chLog, c.dispatch)

	flush := func(peer session.PeerName) {
		for _, plaintext := range c.table.DrainOutbound(peer) {
			if err := c.channel.EncryptAndSend(peer, plaintext); err != nil {
				log.Printf("[core] flushing queued message to %s: %v", peer, err)
			}
		}
	}
	c.hsEngine = handshake.NewEngine(self, id, c.table, hsSend, c.dispatch, flush)

	return c
}

// RegisterSink attaches an Event Sink. sink must implement
// events.SyncSink or events.AsyncSink (events.SyncFunc/events.AsyncFunc
// adapt a plain function to either shape).
func (c *Client) RegisterSink(sink any) error {
	switch s := sink.(type) {
	case events.SyncSink:
		c.sinkMu.Lock()
		c.syncSinks = append(c.syncSinks, s)
		c.sinkMu.Unlock()
		return nil
	case events.AsyncSink:
		c.sinkMu.Lock()
		c.asyncSinks = append(c.asyncSinks, s)
		c.sinkMu.Unlock()
		return nil
	default:
		return ErrUnknownSink
	}
}

// InitiateHandshake begins a handshake with peer, serialized onto the
// event-loop goroutine. Run must be active or this blocks.
func (c *Client) InitiateHandshake(peer session.PeerName) error {
	result := make(chan error, 1)
	c.cmds <- func() { result <- c.hsEngine.InitiateHandshake(peer) }
	return <-result
}

// SendMessage encrypts and relays text to peer, returning channel.ErrNoSession
// if no Established session exists yet. In that case the message is queued
// in enqueue order and flushed automatically once the pending handshake with
// peer reaches handshake_success.
func (c *Client) SendMessage(peer session.PeerName, text string) error {
	result := make(chan error, 1)
	c.cmds <- func() {
		err := c.channel.EncryptAndSend(peer, []byte(text))
		if errors.Is(err, channel.ErrNoSession) {
			c.table.EnqueueOutbound(peer, []byte(text))
		}
		result <- err
	}
	return <-result
}

// HasSession reports whether peer currently has an Established session.
func (c *Client) HasSession(peer session.PeerName) bool {
	result := make(chan bool, 1)
	c.cmds <- func() { result <- c.table.HasEstablished(peer) }
	return <-result
}

// Run drives the event loop until ctx is cancelled or Close is called. It
// owns the Session Table and is the only goroutine that touches it,
// handshake.Engine, or channel.Channel directly.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case cmd := <-c.cmds:
			cmd()
		case frame, ok := <-c.adapter.Inbound():
			if !ok {
				continue
			}
			c.handleFrame(frame)
		}
	}
}

// Close stops the event loop and the underlying Relay Adapter connection.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.adapter.Close()
}

func (c *Client) handleFrame(frame codec.Frame) {
	switch frame.Type {
	case codec.FrameRelay:
		c.dispatchInner(session.PeerName(frame.From), frame.Payload)
	case codec.FrameUserList:
		c.dispatch(events.Event{Kind: events.KindSystem, Text: strings.Join(frame.Users, ",")})
	case codec.FrameError:
		c.dispatch(events.Event{Kind: events.KindSystem, Text: frame.Message})
	default:
		log.Printf("[core] unknown broker frame type %q", frame.Type)
	}
}

func (c *Client) dispatchInner(sender session.PeerName, raw json.RawMessage) {
	kind, err := codec.PayloadKind(raw)
	if err != nil {
		log.Printf("[core] dropping relayed payload from %s: %v", sender, err)
		return
	}

	switch kind {
	case codec.KindHandshakeInit:
		c.hsEngine.HandleHandshakeInit(sender, raw)
	case codec.KindHandshake:
		c.hsEngine.HandleHandshake(sender, raw)
	case codec.KindCiphertext:
		c.channel.Decrypt(sender, raw)
	default:
		log.Printf("[core] unknown inner payload type %q from %s", kind, sender)
	}
}

// dispatch fans an event out to every registered sink: synchronous sinks
// are called inline on the event-loop goroutine; async sinks are launched
// in their own goroutine so a slow embedder callback cannot stall
// handshake or message delivery.
func (c *Client) dispatch(evt events.Event) {
	c.sinkMu.RLock()
	defer c.sinkMu.RUnlock()

	for _, s := range c.syncSinks {
		s.Notify(evt)
	}
	for _, s := range c.asyncSinks {
		s := s
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), asyncSinkTimeout)
			defer cancel()
			if err := s.NotifyAsync(ctx, evt); err != nil {
				log.Printf("[core] async sink error for %v event on peer %s: %v", evt.Kind, evt.Peer, err)
			}
		}()
	}
}

