package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"match-predictor/internal/prediction"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	broadcastQueue = 100
)

// Gauge tracks the number of connected clients.
type Gauge interface {
	Set(float64)
}

// Event is the message pushed to websocket subscribers.
type Event struct {
	Type       string                 `json:"type"`
	Prediction *prediction.Prediction `json:"prediction"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Hub streams prediction events to websocket clients. It implements
// store.Notifier.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
	gauge     Gauge
	log       zerolog.Logger
}

func NewHub(gauge Gauge) *Hub {
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, broadcastQueue),
		gauge:     gauge,
		log:       log.With().Str("component", "ws_hub").Logger(),
	}
}

// Notify queues an event for broadcast. Events are dropped when the queue is full.
func (h *Hub) Notify(kind string, p *prediction.Prediction) {
	data, err := json.Marshal(Event{Type: kind, Prediction: p, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal prediction event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Str("type", kind).Msg("Broadcast queue full, dropping event")
	}
}

// Run broadcasts queued events until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case data := <-h.broadcast:
			h.broadcastToClients(data)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) broadcastToClients(data []byte) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Msg("Dropping websocket client")
			client.Close()
			delete(h.clients, client)
		}
	}
	h.updateGauge()
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.updateGauge()
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away. Clients only receive; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.updateGauge()
	h.clientsMu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientsMu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	h.updateGauge()
	h.clientsMu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// updateGauge must be called with clientsMu held.
func (h *Hub) updateGauge() {
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.clients)))
	}
}
