package handlers

import (
	"net/http"

	"github.com/PortNumber53/adroom/backend/internal/metrics"
	"github.com/gorilla/mux"
)

// RegisterRoutes wires the public API, the Facebook webhook and the internal endpoints.
// internal guards sweep triggers and the realtime stream.
func RegisterRoutes(h *Handler, r *mux.Router, internal func(http.Handler) http.Handler) {
	if internal == nil {
		internal = func(next http.Handler) http.Handler { return next }
	}

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.HandleFunc("/api/context/user/{userId}", h.GetContext).Methods("GET")
	r.HandleFunc("/api/strategies/generate/user/{userId}", h.GenerateStrategy).Methods("POST")
	r.HandleFunc("/api/strategies/user/{userId}", h.CreateStrategy).Methods("POST")
	r.HandleFunc("/api/strategies/user/{userId}", h.ListStrategies).Methods("GET")
	r.HandleFunc("/api/risk", h.EvaluateRisk).Methods("POST")
	r.HandleFunc("/api/intelligence/user/{userId}", h.ListIntelligence).Methods("GET")
	r.HandleFunc("/api/ad-config/user/{userId}", h.UpsertAdConfig).Methods("PUT")

	r.HandleFunc("/webhook/facebook", h.FacebookWebhookVerify).Methods("GET")
	r.HandleFunc("/webhook/facebook", h.FacebookWebhook).Methods("POST")

	r.Handle("/internal/sweeps/{name}", internal(http.HandlerFunc(h.RunSweep))).Methods("POST")
	r.Handle("/api/events/ws", internal(http.HandlerFunc(h.EventsWebSocket))).Methods("GET")
}
