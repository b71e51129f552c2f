package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/hub", s.handleHub)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/refresh", s.handleRefreshDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/command/{command}", s.handleDeviceCommand)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// componentHealth is one entry of the /health response.
type componentHealth struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	Subscriptions *int   `json:"subscriptions,omitempty"`
}

// handleHealth reports the hub connection and, when configured, MQTT.
// It answers 503 when any component is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]componentHealth{
		"hub": probe(ctx, s.hub),
	}
	if s.mqtt != nil {
		mqttHealth := probe(ctx, s.mqtt)
		if sc, ok := s.mqtt.(SubscriptionCounter); ok {
			n := sc.SubscriptionCount()
			mqttHealth.Subscriptions = &n
		}
		components["mqtt"] = mqttHealth
	}

	status, code := "ok", http.StatusOK
	for _, c := range components {
		if c.Status != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

func probe(ctx context.Context, c HealthChecker) componentHealth {
	if err := c.HealthCheck(ctx); err != nil {
		return componentHealth{Status: "unhealthy", Error: err.Error()}
	}
	return componentHealth{Status: "ok"}
}
