package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"handoff-engine/internal/core/domain"
)

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub keeps websocket subscribers grouped by project and broadcasts each
// event only to the subscribers of its project. Sending never blocks:
// a full hub or client buffer drops the message.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan projectMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	producer string
	upgrader websocket.Upgrader
}

type projectMessage struct {
	projectID string
	data      []byte
}

// Client is one websocket subscriber
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	projectID string
	userID    string
	send      chan []byte
}

// NewHub creates a hub. allowOrigin decides websocket origins; nil allows all.
func NewHub(producer string, allowOrigin func(origin string) bool) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan projectMessage, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		producer:   producer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowOrigin == nil {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin(origin)
			},
		},
	}
}

// Run is the hub event loop; it returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for _, set := range h.clients {
			for c := range set {
				close(c.send)
			}
		}
		h.clients = make(map[string]map[*Client]struct{})
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.projectID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.projectID] = set
			}
			set[client] = struct{}{}
			total := len(set)
			h.mu.Unlock()
			slog.Info("Realtime client connected",
				"project_id", client.projectID,
				"user_id", client.userID,
				"project_clients", total,
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.projectID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
				}
				if len(set) == 0 {
					delete(h.clients, client.projectID)
				}
			}
			h.mu.Unlock()
			slog.Info("Realtime client disconnected",
				"project_id", client.projectID,
				"user_id", client.userID,
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.projectID] {
				select {
				case client.send <- msg.data:
				default:
					// slow client: drop
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Notify implements ports.Notifier
func (h *Hub) Notify(ctx context.Context, event domain.Event) error {
	data, err := encode(event, h.producer)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.Broadcast(event.ProjectID, data)
	return nil
}

// Broadcast queues data for the project's subscribers, dropping it if the hub is backed up
func (h *Hub) Broadcast(projectID string, data []byte) {
	select {
	case h.broadcast <- projectMessage{projectID: projectID, data: data}:
	default:
		slog.Warn("Realtime broadcast buffer full, event dropped", "project_id", projectID)
	}
}

// ServeWS upgrades the request and subscribes the caller to projectID.
// The caller must already be authorized for the project.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, projectID, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err, "project_id", projectID)
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		projectID: projectID,
		userID:    userID,
		send:      make(chan []byte, clientBufferSize),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of subscribers of projectID
func (h *Hub) ClientCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// readPump drains the connection; subscribers never send anything meaningful
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Realtime read error", "error", err, "project_id", c.projectID)
			}
			return
		}
	}
}

// writePump sends one event per websocket message
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
