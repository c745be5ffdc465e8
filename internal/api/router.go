package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the component probes behind GET /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)

		r.Post("/scan", s.handleStartScan)
		r.Delete("/scan", s.handleStopScan)

		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/{id}/connect", s.handleConnect)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDisconnect)
			r.Post("/commands", s.handleCommand)
		})

		r.Route("/saved", func(r chi.Router) {
			r.Use(s.requireDirectory)
			r.Get("/", s.handleListSaved)
			r.Post("/", s.handleAddSaved)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", s.handleUpdateSaved)
				r.Delete("/", s.handleDeleteSaved)
				r.Post("/connect", s.handleConnectSaved)
			})
		})

		r.Route("/account", func(r chi.Router) {
			r.Use(s.requireDirectory)
			r.Get("/", s.handleAccount)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
		})

		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and every registered component.
// Any failing component degrades the status to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"simulator_mode": s.control.SimulatorMode(),
		"scanning":       s.control.Scanning(),
		"ws_clients":     s.hub.ClientCount(),
		"components":     components,
	})
}

type modeRequest struct {
	SimulatorMode *bool `json:"simulator_mode"`
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"simulator_mode": s.control.SimulatorMode()})
}

// handleSetMode persists the flag. The facade observes the change and
// tears down the session of the previous mode before this returns.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SimulatorMode == nil {
		writeBadRequest(w, "simulator_mode is required")
		return
	}
	if err := s.mode.SetSimulatorMode(r.Context(), *req.SimulatorMode); err != nil {
		s.logger.Error("saving simulator mode failed", "error", err)
		writeInternalError(w, "saving simulator mode failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"simulator_mode": s.control.SimulatorMode()})
}
