package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Channels pushed to dashboard clients.
const (
	ChannelDecisions  = "decisions"
	ChannelAllocation = "allocation"
	ChannelTreasury   = "treasury"
	ChannelBreaker    = "breaker"
)

// Event is the wire envelope for hub pushes and client requests.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // request, response, event
	Channel   string `json:"channel,omitempty"`
	Method    string `json:"method,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsClient is one connected dashboard session.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

// Hub fans events out to WebSocket clients. Sends never block; a client
// whose buffer is full misses the event.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("ws"),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Broadcast pushes an event to every client subscribed to the channel.
func (h *Hub) Broadcast(channel string, payload any) {
	msg, err := json.Marshal(&Event{
		ID:        uuid.New().String(),
		Type:      "event",
		Channel:   channel,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.subscribed(channel) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Client buffer full, skip
		}
	}
}

// ClientCount reports connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		client.conn.Close()
	}
}

// ServeHTTP upgrades the request and runs the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go h.readPump(client)
	go h.writePump(client)
}

func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		client.conn.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("id", client.id))
	}()

	client.conn.SetReadLimit(64 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Event
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		h.handleMessage(client, &msg)
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(client *wsClient, msg *Event) {
	response := &Event{
		ID:        msg.ID,
		Type:      "response",
		Method:    msg.Method,
		Timestamp: time.Now().UnixMilli(),
	}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}

	case "subscribe":
		channel := channelOf(msg)
		if channel == "" {
			response.Error = "missing channel"
			break
		}
		client.mu.Lock()
		client.subs[channel] = true
		client.mu.Unlock()
		response.Payload = map[string]string{"subscribed": channel}

	case "unsubscribe":
		channel := channelOf(msg)
		client.mu.Lock()
		delete(client.subs, channel)
		client.mu.Unlock()
		response.Payload = map[string]string{"unsubscribed": channel}

	default:
		response.Error = "Unknown method"
	}

	raw, _ := json.Marshal(response)
	select {
	case client.send <- raw:
	default:
	}
}

func channelOf(msg *Event) string {
	if msg.Channel != "" {
		return msg.Channel
	}
	payload, _ := msg.Payload.(map[string]interface{})
	channel, _ := payload["channel"].(string)
	return channel
}
