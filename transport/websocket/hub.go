package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/metrics"
	"github.com/wricardo/tictactoe/transport/gqlsession"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outgoing messages buffered per client before it is dropped.
	sendBuffer = 256

	transportName = "websocket"
)

// ErrClientBackedUp is returned when a client does not read fast enough
var ErrClientBackedUp = errors.New("client send buffer is full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Scopes restores the scope of a connection from its session token
type Scopes interface {
	NewScopeWithToken(token string) (*service.Scope, error)
}

// Config holds the optional settings of a Hub
type Config struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Client is one WebSocket connection running a GraphQL session
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	handler *gqlsession.Handler

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Hub maintains the set of active clients
type Hub struct {
	engine  gqlsession.Engine
	scopes  Scopes
	logger  *slog.Logger
	metrics metrics.Recorder

	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closes every client and stops Run
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	count int
}

// NewHub creates a new WebSocket hub
func NewHub(engine gqlsession.Engine, scopes Scopes, cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Hub{
		engine:     engine,
		scopes:     scopes,
		logger:     cfg.Logger.With(slog.String("component", "websocket")),
		metrics:    cfg.Metrics,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.stop:
			for client := range h.clients {
				h.unregisterClient(client)
			}
			return
		}
	}
}

// Shutdown disconnects every client and stops Run
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// ServeWS upgrades the request and runs a GraphQL session on the
// connection. The optional token query parameter restores a login.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scopes.NewScopeWithToken(r.URL.Query().Get("token"))
	if err != nil {
		status := http.StatusBadRequest
		if engine.IsKind(err, engine.KindToken) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	client.handler = gqlsession.NewHandler(h.engine, func() *service.Scope { return scope }, client.enqueue, gqlsession.Config{
		Transport: transportName,
		Logger:    h.logger,
		Metrics:   h.metrics,
	})

	select {
	case h.register <- client:
	case <-h.stop:
		client.handler.Close(false)
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// registerClient adds a client
func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.setCount(len(h.clients))
	h.logger.Debug("client registered", slog.Int("clients", len(h.clients)))
}

// unregisterClient removes a client and ends its session
func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.setCount(len(h.clients))
	client.closeSend()
	client.handler.Close(true)
	h.logger.Debug("client unregistered", slog.Int("clients", len(h.clients)))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// enqueue queues msg for the write pump
func (c *Client) enqueue(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- []byte(msg):
		return nil
	default:
		return ErrClientBackedUp
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump hands every text frame to the session as one command
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket error", slog.Any("error", err))
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handler.Receive(string(message))
	}
}

// writePump pumps queued messages to the WebSocket connection, one frame
// per message
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
