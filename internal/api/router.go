package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Sockets authenticate in their handlers.
	r.Get(s.devicePath(), s.handleDeviceSocket)
	r.Get(s.browserPath(), s.handleBrowserSocket)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Firmware publisher webhook (shared secret)
		r.Post("/firmware/refresh", s.handleFirmwareRefresh)

		// Operator endpoints (shared admin secret)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/broadcast", s.handleBroadcast)
			r.Post("/pips/{id}/release", s.handleForceRelease)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/firmware", s.handleFirmwareVersion)

			r.Route("/pips", func(r chi.Router) {
				r.Get("/online", s.handleListOnline)
				r.Get("/last-owned", s.handleLastOwned)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/status", s.handleStatus)
					r.Post("/connect", s.handleConnect)
					r.Post("/disconnect", s.handleDisconnect)
					r.Post("/serial-connection", s.handleSerialConnection)
					r.Post("/command", s.handleCommand)
					r.Get("/events", s.handleListEvents)
				})
			})
		})
	})

	return r
}

func (s *Server) devicePath() string {
	if s.wsCfg.DevicePath == "" {
		return "/ws/device"
	}
	return s.wsCfg.DevicePath
}

func (s *Server) browserPath() string {
	if s.wsCfg.BrowserPath == "" {
		return "/ws/browser"
	}
	return s.wsCfg.BrowserPath
}

// handleHealth reports server status and checks each registered dependency.
// Any failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	browsers := s.sessions.Browsers()
	writeJSON(w, code, map[string]any{
		"status":          status,
		"version":         s.version,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"components":      components,
		"devices_online":  len(s.sessions.OnlineDevices()),
		"browser_users":   browsers.UserCount(),
		"browser_sockets": browsers.SocketCount(),
	})
}
