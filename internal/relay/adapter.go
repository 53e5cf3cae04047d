// Package relay implements the Relay Adapter: a single duplex
// connection to the broker, reconnecting on demand, demultiplexing
// inbound frames for the core's event loop to dispatch.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskwire/duskwire/internal/codec"
	"github.com/duskwire/duskwire/internal/session"
)

// ErrTransport marks a failure to reach the broker: a dial that fails, or a
// send that still fails after one reconnect attempt.
var ErrTransport = errors.New("relay: transport error")

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// State is the adapter's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connected
)

// Adapter owns the single websocket connection to the broker for one
// client instance.
type Adapter struct {
	url      string
	username string

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	inbound chan codec.Frame
	done    chan struct{}
	closeOnce sync.Once
}

// NewAdapter constructs a Relay Adapter; it does not dial until the first
// Send or ensureConnected call.
func NewAdapter(url, username string) *Adapter {
	return &Adapter{
		url:      url,
		username: username,
		inbound:  make(chan codec.Frame, 64),
		done:     make(chan struct{}),
	}
}

// Inbound returns the channel of frames received from the broker,
// including both "relay" frames and informational server messages.
func (a *Adapter) Inbound() <-chan codec.Frame {
	return a.inbound
}

// State reports the adapter's current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Send relays payload to peer, wrapping it in a "relay" frame.
// If the connection is closed, ensureConnected reopens it before sending;
// a failure persisting after reconnection surfaces ErrTransport.
func (a *Adapter) Send(ctx context.Context, peer session.PeerName, payload json.RawMessage) error {
	if err := a.ensureConnected(ctx); err != nil {
		return err
	}

	frame := codec.Frame{Type: codec.FrameRelay, To: string(peer), Payload: payload}
	if err := a.writeJSON(frame); err == nil {
		return nil
	}

	a.mu.Lock()
	a.state = Disconnected
	a.mu.Unlock()

	if err := a.ensureConnected(ctx); err != nil {
		return fmt.Errorf("%w: reconnect failed: %v", ErrTransport, err)
	}
	if err := a.writeJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// ensureConnected dials the broker and sends the mandatory register frame
// if the adapter is not already connected.
func (a *Adapter) ensureConnected(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Connected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		_ = conn.WriteJSON(codec.Frame{Type: codec.FrameRegister, Username: a.username})
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	a.conn = conn
	a.state = Connected
	go a.readPump(conn)
	go a.pingLoop(conn)
	return nil
}

func (a *Adapter) writeJSON(v any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (a *Adapter) readPump(conn *websocket.Conn) {
	for {
		var frame codec.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Printf("[relay] connection closed: %v", err)
			a.mu.Lock()
			if a.conn == conn {
				a.state = Disconnected
			}
			a.mu.Unlock()
			return
		}
		select {
		case a.inbound <- frame:
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			stillCurrent := a.conn == conn && a.state == Connected
			a.mu.Unlock()
			if !stillCurrent {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-a.done:
			return
		}
	}
}

// Close tears down the adapter and its connection, if any.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.state = Disconnected
	return err
}
