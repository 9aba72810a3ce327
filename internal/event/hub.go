package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
)

// ErrHubBusy is returned when the broadcast buffer is full and an event was
// dropped.
var ErrHubBusy = errors.New("event: hub broadcast buffer full")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// ClientMessage is what a WebSocket client sends to change its rooms.
//
//	{"action":"join","room":"auction:42"}
type ClientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

type client struct {
	conn     *websocket.Conn
	identity *model.Identity
	send     chan []byte
	rooms    map[string]bool
}

// canJoin reports whether c may subscribe to room. Private user rooms are
// restricted to their owner and the admins room to admins.
func (c *client) canJoin(room string) bool {
	switch {
	case strings.HasPrefix(room, "user:"):
		return c.identity != nil && room == UserTopic(c.identity.AccountID)
	case room == AdminsTopic:
		return c.identity != nil && c.identity.Role == model.RoleAdmin
	case strings.HasPrefix(room, "auction:"), room == AuctionsTopic:
		return true
	}
	return false
}

type roomMessage struct {
	room string
	data []byte
}

// Hub manages WebSocket connections grouped into rooms and delivers each
// published event to the members of its topic's room.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan roomMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	identify func(*http.Request) *model.Identity
	upgrader websocket.Upgrader
}

// NewHub creates a new WebSocket hub. identify resolves the caller of an
// upgrade request and may return nil for anonymous clients.
func NewHub(identify func(*http.Request) *model.Identity) *Hub {
	if identify == nil {
		identify = func(*http.Request) *model.Identity { return nil }
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		identify:   identify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the hub's main event loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.rooms[msg.room] {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: disconnect rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements Broadcaster. It never blocks: when the buffer is full
// the event is dropped and ErrHubBusy returned.
func (h *Hub) Publish(_ context.Context, topic string, ev Event) error {
	data, err := json.Marshal(Envelope{Topic: topic, Event: ev})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomMessage{room: topic, data: data}:
		return nil
	default:
		return ErrHubBusy
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// Authenticated clients join their user room (and admins the admins room)
// immediately; anyone may join auction rooms and the listing room.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity := h.identify(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		rooms:    map[string]bool{AuctionsTopic: true},
	}
	if identity != nil {
		c.rooms[UserTopic(identity.AccountID)] = true
		if identity.Role == model.RoleAdmin {
			c.rooms[AdminsTopic] = true
		}
	}
	if room := r.URL.Query().Get("auction"); room != "" {
		c.rooms[AuctionTopic(room)] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// readPump applies join/leave messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue
			}
			return
		}
		h.applyMembership(c, msg)
	}
}

func (h *Hub) applyMembership(c *client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Action {
	case "join":
		if c.canJoin(msg.Room) {
			c.rooms[msg.Room] = true
		}
	case "leave":
		delete(c.rooms, msg.Room)
	}
}

// writePump is the connection's only writer. It also keeps the connection
// alive through proxies with periodic pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
