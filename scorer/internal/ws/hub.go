package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echoguard/echoguard/scorer/internal/pipeline"
	"github.com/echoguard/echoguard/scorer/internal/results"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16

	listTimeout = 5 * time.Second

	// DefaultLimit is how many recent results a snapshot carries.
	DefaultLimit = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Snapshot is the payload of a "results" message.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []results.Record `json:"results"`
}

// Invocation is the payload of an "invocation" message: the same status code
// and body an HTTP caller of /api/v1/invoke would have received.
type Invocation struct {
	InvocationID string `json:"invocation_id,omitempty"`
	StatusCode   int    `json:"status_code"`
	Body         any    `json:"body"`
}

// Hub manages WebSocket clients and broadcasts results to all of them.
type Hub struct {
	lister   results.Lister
	interval time.Duration
	limit    int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads up to limit results from lister and
// broadcasts them every interval. A nil lister yields empty snapshots.
func New(lister results.Lister, interval time.Duration, limit int) *Hub {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Hub{
		lister:   lister,
		interval: interval,
		limit:    limit,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the broadcast ticker. It blocks until ctx is cancelled, then
// closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if data, err := h.snapshotMessage(ctx); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// Observe implements pipeline.Observer by pushing the outcome to every client.
func (h *Hub) Observe(_ context.Context, res *pipeline.Result, err error) error {
	code, body := pipeline.Outcome(res, err)
	inv := Invocation{StatusCode: code, Body: body}
	if res != nil {
		inv.InvocationID = res.InvocationID
	}
	data, merr := json.Marshal(Message{Event: "invocation", Data: inv})
	if merr != nil {
		return merr
	}
	h.broadcast(data)
	return nil
}

// ServeHTTP upgrades the connection, sends the current snapshot immediately
// and then streams broadcasts until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.snapshotMessage(r.Context()); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Outgoing buffer full: drop the client.
			h.unregister(c)
		}
	}
}

func (h *Hub) snapshotMessage(ctx context.Context) ([]byte, error) {
	snap := Snapshot{GeneratedAt: time.Now().UTC(), Results: []results.Record{}}
	if h.lister != nil {
		ctx, cancel := context.WithTimeout(ctx, listTimeout)
		defer cancel()
		recs, err := h.lister.List(ctx, h.limit)
		if err != nil {
			slog.Warn("ws: list results", "err", err)
			return nil, err
		}
		if recs != nil {
			snap.Results = recs
		}
	}
	return json.Marshal(Message{Event: "results", Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends periodic
// pings. One goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects. It blocks until
// the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
