package api

import (
	"crypto/subtle"
	"io"
	"net/http"
)

// adminSecretHeader carries the operator secret for /api/v1/admin.
const adminSecretHeader = "X-Admin-Secret"

// adminMiddleware guards operator endpoints with the shared admin secret.
// The routes are hidden entirely when no secret is configured.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secCfg.AdminSecret == "" {
			writeNotFound(w, "admin endpoints are not enabled")
			return
		}
		got := r.Header.Get(adminSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secCfg.AdminSecret)) != 1 {
			writeUnauthorized(w, "invalid admin secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleBroadcast sends the raw request body as a command to every online
// Pip.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unable to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command body is empty")
		return
	}

	sent, online, err := s.sessions.Broadcast(r.Context(), body)
	if err != nil {
		writeInternalError(w, "broadcast failed")
		return
	}
	s.logger.Info("admin broadcast", "sent", sent, "online", online, "request_id", r.Context().Value(ctxKeyRequestID))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sent":   sent,
		"online": online,
		"bytes":  len(body),
	})
}

// handleForceRelease clears every channel on one Pip.
func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.ForceRelease(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	s.logger.Info("admin force release", "device_id", id, "request_id", r.Context().Value(ctxKeyRequestID))
	s.writeStatus(w, r, id)
}
