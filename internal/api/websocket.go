package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/atlas-desktop/autopilot-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// feedMessage is the one shape the inspection WebSocket ever sends: a
// wrapped engine event. There is no client->server message the server
// acts on beyond keeping the connection alive.
type feedMessage struct {
	ID    string      `json:"id"`
	Event types.Event `json:"event"`
}

// handleWebSocket upgrades the connection and starts streaming every
// event published on the bus from this point forward.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("inspection client connected", zap.String("id", c.id))

	events := s.bus.Subscribe(64)
	go s.feedPump(c, events)
	go s.writePump(c)
	go s.readPump(c)
}

// feedPump forwards every event the bus publishes to this client's send
// channel until the subscription or the connection closes.
func (s *Server) feedPump(c *client, events <-chan types.Event) {
	for ev := range events {
		payload, err := json.Marshal(feedMessage{ID: uuid.New().String(), Event: ev})
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop rather than block the bus.
		}
	}
}

// readPump discards any client input beyond keepalive pong frames; the
// inspection socket is push-only.
func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
		s.logger.Info("inspection client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump drains the client's send channel and sends periodic pings.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
