package api

import (
	"blueprint-sync/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Blueprint endpoints
	api.HandleFunc("/blueprints/{id}", h.GetBlueprint).Methods("GET")
	api.HandleFunc("/blueprints/{id}", h.SaveBlueprint).Methods("PUT")
	api.HandleFunc("/blueprints/{id}", h.DeleteBlueprint).Methods("DELETE")

	// Derived views over a posted snapshot
	api.HandleFunc("/blueprints/{id}/structure", h.BuildStructure).Methods("POST")
	api.HandleFunc("/blueprints/{id}/costing", h.ComputeCosting).Methods("POST")

	// Relay room info
	api.HandleFunc("/blueprints/{id}/peers", h.GetPeers).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", h.Health).Methods("GET")

	// WebSocket relay
	r.HandleFunc("/ws/blueprints/{id}", h.HandleRoomWebSocket)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
