// Package gateway bridges WebSocket sessions to the live candle stream:
// one broker subscription per connection, filtered down to the symbol the
// session asked for.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"trademind/internal/metrics"
	"trademind/internal/model"
)

// SymbolRegistry is the subscription side of the poller: the hub tells it
// which symbols have live sessions.
type SymbolRegistry interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// Hub tracks connected sessions and owns the shared collaborators each
// session needs.
type Hub struct {
	broker   model.Broker
	registry SymbolRegistry
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub builds a hub. allowedOrigin of "*" accepts any origin.
func NewHub(broker model.Broker, registry SymbolRegistry, m *metrics.Metrics, log *slog.Logger, allowedOrigin string) *Hub {
	h := &Hub{
		broker:   broker,
		registry: registry,
		metrics:  m,
		log:      log,
		clients:  make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "*" || allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return h
}

// HandleWS upgrades the request and runs the session until either side
// disconnects. The symbol comes from the route path.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	sub, err := h.broker.Subscribe(r.Context())
	if err != nil {
		// The session cannot work without the stream. Tell the peer why,
		// then close with an internal-error status.
		h.log.Error("broker subscribe failed", "symbol", symbol, "err", err)
		payload, _ := json.Marshal(map[string]string{
			"type":    "error",
			"symbol":  symbol,
			"message": "live stream unavailable",
		})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(h, conn, symbol, sub)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(count))
	h.registry.Subscribe(symbol)
	h.log.Info("ws client connected", "symbol", symbol, "total", count)

	go client.writePump()
	go client.bridge()
	client.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.WSClients.Set(float64(count))
	h.registry.Unsubscribe(c.symbol)
	h.log.Info("ws client disconnected", "symbol", c.symbol, "total", count)
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
