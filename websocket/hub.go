package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned when the user has no open connection.
var ErrNotConnected = errors.New("user not connected")

// Notification represents a message sent over WebSocket
type Notification struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	UserID  string      `json:"userID,omitempty"`
}

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Client represents a connected WebSocket client
type Client struct {
	UserID primitive.ObjectID
	Conn   Conn

	writeMu sync.Mutex
}

func (c *Client) send(n Notification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(n)
}

// Hub keeps the open connection of every authenticated user. A newer
// connection of the same user replaces the older one.
type Hub struct {
	clients    map[primitive.ObjectID]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[primitive.ObjectID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if previous, ok := h.clients[client.UserID]; ok && previous != client {
				_ = previous.Conn.Close()
			}
			h.clients[client.UserID] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.UserID]; ok && current == client {
				delete(h.clients, client.UserID)
			}
			h.mu.Unlock()
			_ = client.Conn.Close()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				_ = client.Conn.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		_ = c.Conn.Close()
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop closes every connection and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Connected reports whether userID has an open connection.
func (h *Hub) Connected(userID primitive.ObjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// SendToUser sends a message to a specific user
func (h *Hub) SendToUser(userID primitive.ObjectID, notification Notification) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}

	if err := client.send(notification); err != nil {
		log.Warn().Err(err).Str("userId", userID.Hex()).Msg("websocket write failed, dropping client")
		h.remove(client)
		return err
	}
	return nil
}

// Publish sends a typed message to userID.
func (h *Hub) Publish(userID primitive.ObjectID, messageType, message string, data interface{}) error {
	return h.SendToUser(userID, Notification{
		Type:    messageType,
		Message: message,
		Data:    data,
		UserID:  userID.Hex(),
	})
}

// compile-time check that a real connection satisfies Conn
var _ Conn = (*websocket.Conn)(nil)
