package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/device"
)

// statusResponse is the view of one device session returned by controllers.
type statusResponse struct {
	ID              device.ID         `json:"pip_id"`
	Online          bool              `json:"online"`
	State           device.State      `json:"state"`
	OnlineOwner     device.UserID     `json:"online_owner,omitempty"`
	SerialOwner     device.UserID     `json:"serial_owner,omitempty"`
	LastOnlineOwner *device.LastOwner `json:"last_online_owner,omitempty"`
	ControlledByYou bool              `json:"controlled_by_you"`
}

func newStatusResponse(st device.Status, user device.UserID) statusResponse {
	return statusResponse{
		ID:              st.ID,
		Online:          st.Online,
		State:           st.State(),
		OnlineOwner:     st.OnlineOwner,
		SerialOwner:     st.SerialOwner,
		LastOnlineOwner: st.LastOnlineOwner,
		ControlledByYou: user != device.NoUser && (st.OnlineOwner == user || st.SerialOwner == user),
	}
}

type disconnectRequest struct {
	PreventAutoReconnect bool `json:"prevent_auto_reconnect"`
}

type serialConnectionRequest struct {
	Connected *bool `json:"connected"`
}

// pipID parses the {id} URL parameter, writing a 400 when it is malformed.
func pipID(w http.ResponseWriter, r *http.Request) (device.ID, bool) {
	id, err := device.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid pip id")
		return "", false
	}
	return id, true
}

// writeStatus responds with the current session of id.
func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id device.ID) {
	st, ok := s.sessions.Status(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(st, userFromContext(r.Context())))
}

// handleListOnline returns every connected Pip.
func (s *Server) handleListOnline(w http.ResponseWriter, _ *http.Request) {
	ids := s.sessions.OnlineDevices()
	if ids == nil {
		ids = []device.ID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pips":  ids,
		"count": len(ids),
	})
}

// handleLastOwned resumes control of the device the caller last held, for a
// reloaded page.
func (s *Server) handleLastOwned(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id, ok := s.sessions.ResumeLastOwned(r.Context(), user)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"resumed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resumed": true,
		"pip_id":  id,
	})
}

// handleStatus returns the session of one Pip.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}
	s.writeStatus(w, r, id)
}

// handleConnect claims the online channel for the caller.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.ClaimOnline(r.Context(), id, userFromContext(r.Context())); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w, r, id)
}

// handleDisconnect releases the caller's online channel. The body is optional.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sessions.ReleaseOnline(r.Context(), id, userFromContext(r.Context()), req.PreventAutoReconnect); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w, r, id)
}

// handleSerialConnection reports that the caller's browser attached or
// detached a USB serial link to the Pip.
func (s *Server) handleSerialConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}

	var req serialConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Connected == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "connected is required")
		return
	}

	user := userFromContext(r.Context())
	if *req.Connected {
		s.sessions.ClaimSerial(r.Context(), id, user)
	} else if err := s.sessions.ReleaseSerial(r.Context(), id, user); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w, r, id)
}

// handleCommand forwards the raw request body to the Pip as a command frame.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unable to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command body is empty")
		return
	}

	if err := s.sessions.SendCommand(r.Context(), id, userFromContext(r.Context()), body); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pip_id": id,
		"bytes":  len(body),
	})
}

// handleListEvents returns the ownership history of one Pip, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pipID(w, r)
	if !ok {
		return
	}
	if s.audit == nil {
		writeNotFound(w, "session history is not enabled")
		return
	}

	query := r.URL.Query()
	filter := audit.Filter{
		DeviceID: string(id),
		Action:   query.Get("action"),
	}
	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}
	if v := query.Get("user_id"); v != "" {
		filter.UserID, err = strconv.ParseInt(v, 10, 64)
		if err != nil || filter.UserID < 0 {
			writeBadRequest(w, "user_id must be a non-negative integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing session events", "device_id", id, "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional non-negative query parameter.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
