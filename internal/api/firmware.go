package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/nerrad567/pip-core/internal/firmware"
)

// webhookSecretHeader carries the firmware publisher's shared secret.
const webhookSecretHeader = "X-Webhook-Secret"

// handleFirmwareRefresh reloads the latest firmware release after the
// publisher announces one.
func (s *Server) handleFirmwareRefresh(w http.ResponseWriter, r *http.Request) {
	if s.fwCfg.WebhookSecret == "" || s.firmware == nil {
		writeNotFound(w, "firmware webhook is not enabled")
		return
	}

	got := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.fwCfg.WebhookSecret)) != 1 {
		writeUnauthorized(w, "invalid webhook secret")
		return
	}

	previous := s.firmware.Version()
	if err := s.firmware.Refresh(r.Context()); err != nil {
		s.logger.Error("firmware refresh failed", "error", err)
		if errors.Is(err, firmware.ErrNoRelease) || errors.Is(err, firmware.ErrInvalidRelease) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeFirmwareMissing, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeFirmwareMissing, "firmware store unavailable")
		return
	}

	version := s.firmware.Version()
	s.logger.Info("firmware refreshed by webhook", "previous_version", previous, "version", version)
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  version,
		"previous": previous,
	})
}

// handleFirmwareVersion returns the cached firmware version.
func (s *Server) handleFirmwareVersion(w http.ResponseWriter, _ *http.Request) {
	if s.firmware == nil {
		writeNotFound(w, "firmware cache is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": s.firmware.Version()})
}
