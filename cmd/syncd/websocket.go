// Local WebSocket event feed: rebroadcasts engine events to UI clients
// connected on localhost.
package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/sync/events"
)

// EventHub maintains active client connections and fans engine events
// out to them.
type EventHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*feedClient
}

type feedClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *EventHub
	closeOnce sync.Once
}

// closeSend closes the send channel exactly once; both the stall path in
// Forward and the disconnect path in remove may race to it.
func (c *feedClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// NewEventHub creates a hub accepting connections from local origins
// only; the feed is not meant to leave the machine.
func NewEventHub(listenAddr string) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return localOrigin(r.Header.Get("Origin"), listenAddr)
			},
		},
		clients: make(map[string]*feedClient),
	}
}

// localOrigin accepts requests without an Origin header (non-browser
// clients) and browser origins on the listen address or loopback.
func localOrigin(origin, listenAddr string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == listenAddr {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Forward is subscribed on the engine's event bus; it serializes the
// event and queues it to every connected client. A client with a full
// send buffer is dropped rather than allowed to stall the feed.
func (h *EventHub) Forward(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error("Failed to marshal feed event", err,
			map[string]interface{}{"event_type": string(event.Type)})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- data:
		default:
			client.closeSend()
			delete(h.clients, id)
			logging.Warn("Dropped slow event feed client",
				map[string]interface{}{"client_id": id})
		}
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Failed to upgrade event feed connection",
			map[string]interface{}{"upgrade_error": err.Error()})
		return
	}

	client := &feedClient{
		id:   time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection; the feed is one-way, clients only send
// pings and close frames.
func (c *feedClient) readPump() {
	defer func() {
		c.hub.remove(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("Event feed read error",
					map[string]interface{}{"client_id": c.id, "read_error": err.Error()})
			}
			return
		}
	}
}

// writePump delivers queued events and keeps the connection alive.
func (c *feedClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[id]; ok {
		delete(h.clients, id)
		client.closeSend()
	}
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}
