// Package api exposes the HTTP surface: the historical candles endpoint,
// the WebSocket entry point, health and Prometheus metrics.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trademind/internal/gateway"
	"trademind/internal/history"
)

// Server holds the handlers' collaborators.
type Server struct {
	resolver      *history.Resolver
	hub           *gateway.Hub
	log           *slog.Logger
	allowedOrigin string
}

// NewServer builds the HTTP server façade.
func NewServer(resolver *history.Resolver, hub *gateway.Hub, log *slog.Logger, allowedOrigin string) *Server {
	return &Server{
		resolver:      resolver,
		hub:           hub,
		log:           log,
		allowedOrigin: allowedOrigin,
	}
}

// Router wires all routes. gatherer serves /metrics; pass the registry the
// process registered its collectors on.
func (s *Server) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.cors)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	// OPTIONS is listed so preflights reach the CORS middleware.
	r.HandleFunc("/api/v1/candles/history", s.handleHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws/candles/{symbol}", s.hub.HandleWS).Methods(http.MethodGet)

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.allowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
