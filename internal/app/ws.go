// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/balance_screen/internal/metrics"
	"github.com/relabs-tech/balance_screen/internal/session"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // kiosk UI may be served from another origin
	},
}

// Client -> server message.
type wsCommand struct {
	Action string `json:"action"` // "acknowledge", "start", "reset", "snapshot"
	UserID string `json:"user_id,omitempty"`
}

// Server -> client messages that are not session events.
type wsReply struct {
	Type     string            `json:"type"` // "snapshot", "error"
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Message  string            `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans controller events out to websocket clients and accepts
// session commands from them.
type Hub struct {
	ctrl *session.Controller

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates a hub for ctrl. Register Broadcast as a controller listener.
func NewHub(ctrl *session.Controller) *Hub {
	return &Hub{ctrl: ctrl, clients: make(map[*wsClient]struct{})}
}

// Broadcast queues e for every client. Slow clients miss events rather
// than block the controller.
func (h *Hub) Broadcast(e session.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.closed = true
	for c := range clients {
		close(c.send)
		metrics.WebSocketClients.Dec()
	}
	h.mu.Unlock()
}

// ServeWS upgrades the connection, sends a snapshot and then streams events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if !h.register(c) {
		return
	}
	defer h.unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.reply(c, h.snapshot())
	h.readLoop(r.Context(), c)

	h.unregister(c)
	<-done
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Inc()
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

func (h *Hub) writePump(c *wsClient) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("ws: write error: %v", err)
			_ = c.conn.Close() // unblocks readLoop
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(ctx context.Context, c *wsClient) {
	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		var err error
		switch cmd.Action {
		case "acknowledge":
			err = h.ctrl.AcknowledgeInstructions()
		case "start":
			err = h.ctrl.Start(ctx, cmd.UserID)
		case "reset":
			h.ctrl.Reset()
		case "snapshot":
			h.reply(c, h.snapshot())
		default:
			err = fmt.Errorf("unknown action: %s", cmd.Action)
		}
		if err != nil {
			h.reply(c, wsReply{Type: "error", Message: err.Error()})
		}
	}
}

func (h *Hub) snapshot() wsReply {
	s := h.ctrl.Snapshot()
	return wsReply{Type: "snapshot", Snapshot: &s}
}

func (h *Hub) reply(c *wsClient, r wsReply) {
	msg, err := json.Marshal(r)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
