package broker

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskwire/duskwire/internal/codec"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 256 * 1024 // opaque ciphertext frames only, never media
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn is a single registered websocket connection with its own read and
// write pumps. It never inspects payload contents: the broker relays
// opaque frames only.
type conn struct {
	hub      *Hub
	username string
	ws       *websocket.Conn
	send     chan []byte
}

func (c *conn) readPump() {
	defer func() { c.hub.unregister <- c }()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if c.username != "" {
			c.hub.presence.RefreshConnection(context.Background(), c.username)
		}
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame codec.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.inbound <- inboundFrame{from: c, frame: frame}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case raw, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) deliver(frame codec.Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Printf("broker: send buffer full for %s, dropping connection", c.username)
		close(c.send)
	}
}

func (c *conn) sendError(message string) {
	c.deliver(codec.Frame{Type: codec.FrameError, Message: message})
	FramesTotal.WithLabelValues(codec.FrameError, "outbound").Inc()
}

// inboundFrame pairs a decoded frame with the connection it arrived on, so
// the hub's single goroutine can process it without touching connection
// state from multiple goroutines at once.
type inboundFrame struct {
	from  *conn
	frame codec.Frame
}

// Hub is the relay broker's connection registry and frame router: a
// stateless register/relay/user_list/error router built around a
// single-goroutine select loop. It never stores or inspects plaintext: a
// relay frame's payload passes through Hub untouched.
type Hub struct {
	replicaID string

	mu      sync.RWMutex
	clients map[string]*conn

	unregister chan *conn
	inbound    chan inboundFrame
	shutdown   chan struct{}

	presence  *Presence
	directory *Directory
	regAuth   *RegAuth // nil disables register-frame token enforcement
}

// NewHub constructs a Hub. presence and directory are required; regAuth is
// optional and, when nil, register frames are accepted without a token.
func NewHub(replicaID string, presence *Presence, directory *Directory, regAuth *RegAuth) *Hub {
	return &Hub{
		replicaID:  replicaID,
		clients:    make(map[string]*conn),
		unregister: make(chan *conn),
		inbound:    make(chan inboundFrame, 256),
		shutdown:   make(chan struct{}),
		presence:   presence,
		directory:  directory,
		regAuth:    regAuth,
	}
}

// Run starts the hub's single-goroutine select loop. It owns all mutation
// of the connection registry.
func (h *Hub) Run() {
	relayCh := h.presence.SubscribeRelay(context.Background())
	defer relayCh.Close()
	crossReplica := relayCh.Channel()

	for {
		select {
		case c := <-h.unregister:
			h.unregisterConn(c)

		case item := <-h.inbound:
			h.routeFrame(item)

		case msg := <-crossReplica:
			h.deliverCrossReplica([]byte(msg.Payload))

		case <-h.shutdown:
			h.closeAll()
			return
		}
	}
}

// Shutdown stops the hub's loop and closes every connection.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// ServeWS upgrades an HTTP request to a websocket connection and joins it
// to the hub. The connection must send a register frame as its first
// message; anything else is rejected with an error frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broker: upgrade failed: %v", err)
		return
	}

	c := &conn{hub: h, ws: ws, send: make(chan []byte, sendBufferSize)}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) registerConn(c *conn) {
	h.mu.Lock()
	if existing, ok := h.clients[c.username]; ok && existing != c {
		close(existing.send)
	}
	h.clients[c.username] = c
	total := len(h.clients)
	h.mu.Unlock()

	ActiveConnections.Set(float64(total))

	ctx := context.Background()
	if err := h.presence.RegisterConnection(ctx, c.username, h.replicaID); err != nil {
		log.Printf("broker: presence registration failed for %s: %v", c.username, err)
	}
	if h.directory != nil {
		if err := h.directory.RecordRegistration(c.username, h.replicaID, time.Now()); err != nil {
			log.Printf("broker: directory registration failed for %s: %v", c.username, err)
		}
	}

	h.broadcastUserList()
}

func (h *Hub) unregisterConn(c *conn) {
	h.mu.Lock()
	if h.clients[c.username] == c {
		delete(h.clients, c.username)
	}
	total := len(h.clients)
	h.mu.Unlock()

	ActiveConnections.Set(float64(total))

	if c.username != "" {
		if err := h.presence.UnregisterConnection(context.Background(), c.username); err != nil {
			log.Printf("broker: presence unregister failed for %s: %v", c.username, err)
		}
	}

	h.broadcastUserList()
}

// routeFrame dispatches one inbound frame: the first frame on a connection
// must be "register"; after that only "relay" frames are accepted.
func (h *Hub) routeFrame(item inboundFrame) {
	frame, c := item.frame, item.from
	FramesTotal.WithLabelValues(frame.Type, "inbound").Inc()

	switch frame.Type {
	case codec.FrameRegister:
		h.handleRegister(c, frame)
	case codec.FrameRelay:
		h.handleRelay(c, frame)
	default:
		c.sendError("unknown frame type")
	}
}

func (h *Hub) handleRegister(c *conn, frame codec.Frame) {
	if frame.Username == "" {
		c.sendError("register frame missing username")
		return
	}
	if c.username != "" {
		c.sendError("connection already registered")
		return
	}
	if h.regAuth != nil && frame.Token != "" {
		if err := h.regAuth.ValidateToken(frame.Token, frame.Username); err != nil {
			c.sendError("registration token rejected")
			return
		}
	}

	c.username = frame.Username
	h.registerConn(c)
}

func (h *Hub) handleRelay(c *conn, frame codec.Frame) {
	if c.username == "" {
		c.sendError("relay frame received before register")
		return
	}
	if frame.To == "" {
		c.sendError("relay frame missing destination")
		return
	}

	start := time.Now()
	frame.From = c.username

	h.mu.RLock()
	dest, local := h.clients[frame.To]
	h.mu.RUnlock()

	if local {
		dest.deliver(frame)
		FramesTotal.WithLabelValues(codec.FrameRelay, "outbound").Inc()
		RelayLatency.Observe(time.Since(start).Seconds())
		return
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		c.sendError("failed to encode relay frame")
		return
	}
	if err := h.presence.PublishRelay(context.Background(), raw); err != nil {
		log.Printf("broker: cross-replica publish failed: %v", err)
		c.sendError("destination unreachable")
		return
	}
	CrossReplicaForwardsTotal.Inc()
	RelayLatency.Observe(time.Since(start).Seconds())
}

// deliverCrossReplica handles a relay frame received over Redis pub/sub
// from another replica, delivering it if the destination is connected here.
func (h *Hub) deliverCrossReplica(raw []byte) {
	var frame codec.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("broker: malformed cross-replica frame: %v", err)
		return
	}

	h.mu.RLock()
	dest, local := h.clients[frame.To]
	h.mu.RUnlock()

	if local {
		dest.deliver(frame)
		FramesTotal.WithLabelValues(codec.FrameRelay, "outbound").Inc()
	}
}

func (h *Hub) broadcastUserList() {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for name := range h.clients {
		users = append(users, name)
	}
	conns := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	frame := codec.Frame{Type: codec.FrameUserList, Users: users}
	for _, c := range conns {
		c.deliver(frame)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[string]*conn)
}
