package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Same-host dashboards only; reverse proxies set the origin.
		return true
	},
}

// streamMessage is the wire envelope for hub broadcasts.
type streamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// streamClient is one connected websocket consumer.
type streamClient struct {
	hub  *StreamHub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// StreamHub pushes alert events to connected websocket clients. It also
// acts as a notification channel named "stream" so rules can target it.
type StreamHub struct {
	mu         sync.RWMutex
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		stopCh:     make(chan struct{}),
	}
}

func (h *StreamHub) Name() string { return "stream" }

// Send implements Channel by broadcasting the alert to every client.
func (h *StreamHub) Send(ctx context.Context, alert *alerts.Alert) error {
	return h.broadcastMessage(streamMessage{Type: "alert", Data: alert})
}

// BroadcastResolved announces an alert resolution on the stream.
func (h *StreamHub) BroadcastResolved(alertID string) {
	h.broadcastMessage(streamMessage{Type: "alertResolved", Data: map[string]string{"alertId": alertID}})
}

func (h *StreamHub) broadcastMessage(msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal stream message")
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		log.Warn().Msg("Stream broadcast channel full")
		return fmt.Errorf("stream broadcast channel full")
	}
}

// Run owns client registration and fan-out until Stop.
func (h *StreamHub) Run() {
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client", client.id).Msg("Stream client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Info().Str("client", client.id).Msg("Stream client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*streamClient, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			for _, client := range targets {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it.
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// Stop shuts the hub down; connected clients are closed.
func (h *StreamHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// ClientCount reports connected consumers.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Stream upgrade failed")
		return
	}

	client := &streamClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		id:   fmt.Sprintf("client-%d", time.Now().UnixNano()),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client", c.id).Msg("Stream read error")
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
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
