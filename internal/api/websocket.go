package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
)

// upgrader configures the WebSocket upgrader for both socket kinds.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleDeviceSocket upgrades a Pip connection. The device identifies itself
// with ?id=; the socket is handed to the session coordinator, which owns it
// from here on.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	id, err := device.ParseID(r.URL.Query().Get("id"))
	if err != nil {
		writeBadRequest(w, "id query parameter must be a five character Pip id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device websocket upgrade failed", "device_id", id, "error", err)
		return
	}
	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	s.sessions.AcceptDevice(id, conn)
	s.logger.Info("device socket accepted", "device_id", id, "remote", r.RemoteAddr)
}

// handleBrowserSocket upgrades a browser connection authenticated with a
// ?ticket= from POST /auth/ws-ticket or an access ?token=.
func (s *Server) handleBrowserSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := s.browserUser(r)
	if !ok {
		writeUnauthorized(w, "valid ticket or token query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("browser websocket upgrade failed", "user_id", user, "error", err)
		return
	}

	client := browser.NewClient(user, conn, browser.ClientConfig{
		MaxMessageSize: int64(s.wsCfg.MaxMessageSize),
		PingInterval:   time.Duration(s.wsCfg.PingInterval) * time.Second,
		PongTimeout:    time.Duration(s.wsCfg.PongTimeout) * time.Second,
	}, s.logger)

	s.sessions.BrowserConnected(client)
	go client.Run(s.sessions.HandleBrowserMessage, s.sessions.BrowserDisconnected)
}

// browserUser authenticates a browser socket request.
func (s *Server) browserUser(r *http.Request) (device.UserID, bool) {
	query := r.URL.Query()
	if ticket := query.Get("ticket"); ticket != "" {
		return s.tickets.redeem(ticket)
	}
	if token := query.Get("token"); token != "" {
		user, err := s.verifyToken(token)
		if err != nil {
			s.logger.Debug("rejected browser socket token", "error", err)
			return device.NoUser, false
		}
		return user, true
	}
	return device.NoUser, false
}
