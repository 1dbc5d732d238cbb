package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 3 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.With(s.requireHardwareKey).Post("/readings", s.handleApplyReading)
				r.Get("/snapshot", s.handleLatestSnapshot)
				r.Get("/history", s.handleHistory)
				r.Get("/settings", s.handleGetSettings)
				r.Put("/settings", s.handleApplySettings)
				r.Get("/calibration", s.handleGetCalibration)
				r.Put("/calibration", s.handleApplyCalibration)
				r.Patch("/status", s.handlePatchStatus)
				r.Get("/alerts", s.handleListAlerts)
				r.Get("/alerts/export", s.handleExportAlerts)
			})
		})

		r.Route("/alert-rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Route("/push", func(r chi.Router) {
			r.Get("/public-key", s.handlePushPublicKey)
			r.Post("/subscriptions", s.handleSubscribeWeb)
			r.Delete("/subscriptions", s.handleUnsubscribeWeb)
			r.Post("/native", s.handleRegisterNative)
			r.Delete("/native/{token}", s.handleUnregisterNative)
			r.Get("/health", s.handlePushHealth)
			r.Post("/test", s.handlePushTest)
		})

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/", s.handleEnqueueCommand)
			r.Get("/{id}", s.handleGetCommand)

			r.Group(func(r chi.Router) {
				r.Use(s.requireHardwareKey)
				r.Post("/claim", s.handleClaimCommands)
				r.Post("/{id}/complete", s.handleCompleteCommand)
			})
		})

		r.Get("/audit", s.handleListAudit)

		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// handleHealth probes the database and every optional dependency. Only a
// database failure makes the response 503; other failures mark it degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version, Checks: map[string]string{}}
	status := http.StatusOK

	probe := func(check HealthChecker) string {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := check.HealthCheck(ctx); err != nil {
			return err.Error()
		}
		return "ok"
	}

	resp.Checks["database"] = probe(s.db)
	if resp.Checks["database"] != "ok" {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	for _, name := range []string{"mqtt", "influxdb", "redis"} {
		if _, ok := s.checks[name]; !ok {
			resp.Checks[name] = "disabled"
		}
	}
	for name, check := range s.checks {
		if check == nil {
			resp.Checks[name] = "disabled"
			continue
		}
		resp.Checks[name] = probe(check)
		if resp.Checks[name] != "ok" && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
