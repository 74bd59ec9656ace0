package device

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// session is the live state of one device. It is only touched under Registry.mu.
type session struct {
	online          bool
	onlineOwner     UserID
	serialOwner     UserID
	lastOnlineOwner *LastOwner
	conn            Connection
}

func (s *session) status(id ID) Status {
	st := Status{
		ID:          id,
		Online:      s.online,
		OnlineOwner: s.onlineOwner,
		SerialOwner: s.serialOwner,
	}
	if s.lastOnlineOwner != nil {
		last := *s.lastOnlineOwner
		st.LastOnlineOwner = &last
	}
	return st
}

// RegisterOutcome describes how ownership was resolved for a (re)connecting device.
type RegisterOutcome string

// Register outcomes.
const (
	// OutcomeUnowned means nobody controls the device after registration.
	OutcomeUnowned RegisterOutcome = "unowned"

	// OutcomeSerialAbsorbed means the serial owner became the online owner.
	// No device frame or browser event is expected for this outcome.
	OutcomeSerialAbsorbed RegisterOutcome = "serial_absorbed"

	// OutcomeAutoRebound means the last online owner was handed control back.
	// The caller notifies the device and binds the user's browser.
	OutcomeAutoRebound RegisterOutcome = "auto_rebound"
)

// RegisterResult is returned by RegisterConnection.
type RegisterResult struct {
	Created  bool
	Replaced bool
	Outcome  RegisterOutcome
	Owner    UserID
}

// DisconnectResult is returned by HandleDisconnection.
type DisconnectResult struct {
	// Known is false when the device never had a session.
	Known bool

	// PreviousOnlineOwner must be told the device went offline and unbound.
	PreviousOnlineOwner UserID

	// SerialOwner is the serial owner left in place (always NoUser on shutdown).
	SerialOwner UserID

	// ClearedSerialOwner is the serial owner dropped by a shutdown.
	ClearedSerialOwner UserID
}

// ReleaseResult is returned by ReleaseUser.
type ReleaseResult struct {
	ReleasedOnline bool
	ReleasedSerial bool
}

// Registry is the exclusive-ownership state machine for devices.
//
// Sessions are created lazily and never removed. Every exported method runs
// as one critical section. Lock order is Registry then Presence; Presence
// implementations must never call back into the Registry.
type Registry struct {
	mu       sync.Mutex
	sessions map[ID]*session
	presence Presence
	window   time.Duration
	now      func() time.Time
	logger   Logger
}

// NewRegistry creates a registry that consults presence for auto-rebinds.
// A non-positive window selects DefaultReconnectWindow.
func NewRegistry(presence Presence, window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultReconnectWindow
	}
	return &Registry{
		sessions: make(map[ID]*session),
		presence: presence,
		window:   window,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetClock replaces the wall clock used for the reconnect window.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// ReconnectWindow returns the configured window.
func (r *Registry) ReconnectWindow() time.Duration {
	return r.window
}

// expired reports whether last is outside the reconnect window.
func (r *Registry) expired(last *LastOwner, now time.Time) bool {
	return last == nil || now.Sub(last.LastActivityAt) > r.window
}

// validLastOwner returns the session's last online owner, pruning it when expired.
func (r *Registry) validLastOwner(id ID, s *session, now time.Time) *LastOwner {
	if s.lastOnlineOwner == nil {
		return nil
	}
	if r.expired(s.lastOnlineOwner, now) {
		r.logger.Debug("last online owner expired", "device_id", id, "user_id", s.lastOnlineOwner.UserID)
		s.lastOnlineOwner = nil
		return nil
	}
	return s.lastOnlineOwner
}

func (r *Registry) hasActiveSocket(user UserID) bool {
	return r.presence != nil && r.presence.HasActiveSocket(user)
}

// RegisterConnection installs conn as the live handle for id.
//
// A new session starts online and unowned. For an existing session the
// previous handle is disposed first, then:
//   - a serial owner becomes the online owner too;
//   - else the last online owner is rebound if they are inside the
//     reconnect window and have a browser socket open;
//   - else the device is online and unowned.
func (r *Registry) RegisterConnection(id ID, conn Connection) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	s, ok := r.sessions[id]
	if !ok {
		r.sessions[id] = &session{online: true, conn: conn}
		r.logger.Info("device registered", "device_id", id)
		return RegisterResult{Created: true, Outcome: OutcomeUnowned}
	}

	result := RegisterResult{}
	if s.conn != nil && s.conn != conn {
		s.conn.Dispose(false)
		result.Replaced = true
	}
	s.conn = conn
	s.online = true
	s.onlineOwner = NoUser

	if s.serialOwner != NoUser {
		s.onlineOwner = s.serialOwner
		s.lastOnlineOwner = &LastOwner{UserID: s.serialOwner, LastActivityAt: now}
		result.Outcome = OutcomeSerialAbsorbed
		result.Owner = s.serialOwner
		r.logger.Info("device reconnected under serial owner", "device_id", id, "user_id", s.serialOwner)
		return result
	}

	if last := r.validLastOwner(id, s, now); last != nil && r.hasActiveSocket(last.UserID) {
		s.onlineOwner = last.UserID
		last.LastActivityAt = now
		result.Outcome = OutcomeAutoRebound
		result.Owner = last.UserID
		r.logger.Info("device auto-rebound to last owner", "device_id", id, "user_id", last.UserID)
		return result
	}

	result.Outcome = OutcomeUnowned
	r.logger.Info("device reconnected", "device_id", id, "replaced", result.Replaced)
	return result
}

// HandleDisconnection marks id offline and disposes its handle.
//
// The online owner is always cleared and reported back. A shutdown also
// drops the serial owner and the reconnect memory; a transient drop keeps
// the serial owner so a tethered student is not kicked.
func (r *Registry) HandleDisconnection(id ID, isShutdown bool) DisconnectResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.disconnectLocked(id, isShutdown)
}

// HandleConnectionClosed is HandleDisconnection(id, false) for a close
// callback from conn. Callbacks from a handle that has since been replaced
// are ignored and report false.
func (r *Registry) HandleConnectionClosed(id ID, conn Connection) (DisconnectResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.conn != conn {
		return DisconnectResult{Known: ok}, false
	}
	return r.disconnectLocked(id, false), true
}

func (r *Registry) disconnectLocked(id ID, isShutdown bool) DisconnectResult {
	s, ok := r.sessions[id]
	if !ok {
		return DisconnectResult{}
	}

	result := DisconnectResult{Known: true, PreviousOnlineOwner: s.onlineOwner}

	if s.onlineOwner != NoUser {
		s.lastOnlineOwner = &LastOwner{UserID: s.onlineOwner, LastActivityAt: r.now()}
	}
	s.online = false
	s.onlineOwner = NoUser

	if isShutdown {
		result.ClearedSerialOwner = s.serialOwner
		s.serialOwner = NoUser
		s.lastOnlineOwner = nil
	}
	result.SerialOwner = s.serialOwner

	if s.conn != nil {
		s.conn.Dispose(isShutdown)
		s.conn = nil
	}

	r.logger.Info("device disconnected",
		"device_id", id,
		"shutdown", isShutdown,
		"previous_owner", result.PreviousOnlineOwner,
	)
	return result
}

// HandleSerialConnect gives user the serial channel and returns the online
// owner it displaced (NoUser if none). It never fails.
//
// An unknown device gets an offline session holding the serial claim.
// If the device is online its current online owner is remembered as the
// last online owner before being cleared.
func (r *Registry) HandleSerialConnect(id ID, user UserID) UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		r.sessions[id] = &session{serialOwner: user}
		r.logger.Info("serial claim on unseen device", "device_id", id, "user_id", user)
		return NoUser
	}

	previous := s.onlineOwner
	if s.online && previous != NoUser {
		s.lastOnlineOwner = &LastOwner{UserID: previous, LastActivityAt: r.now()}
	}
	s.onlineOwner = NoUser
	s.serialOwner = user

	r.logger.Info("serial channel claimed", "device_id", id, "user_id", user, "displaced", previous)
	return previous
}

// HandleSerialDisconnect clears the serial owner only. It reports whether a
// serial owner was set. Callers follow up with ReconnectLastOwner.
func (r *Registry) HandleSerialDisconnect(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.serialOwner == NoUser {
		return false
	}

	r.logger.Info("serial channel released", "device_id", id, "user_id", s.serialOwner)
	s.serialOwner = NoUser
	return true
}

// ReleaseSerial is HandleSerialDisconnect restricted to the serial owner.
func (r *Registry) ReleaseSerial(id ID, user UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.serialOwner == NoUser || s.serialOwner != user {
		return ErrNotOwner
	}

	r.logger.Info("serial channel released", "device_id", id, "user_id", user)
	s.serialOwner = NoUser
	return nil
}

// SetOnlineUserConnected gives user the online channel.
//
// It fails with ErrSessionNotFound for unknown devices and with
// ErrSerialConflict while another user holds the serial channel. If a
// different user held the online channel they are returned as displaced.
func (r *Registry) SetOnlineUserConnected(id ID, user UserID) (UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return NoUser, ErrSessionNotFound
	}
	if s.serialOwner != NoUser && s.serialOwner != user {
		return NoUser, ErrSerialConflict
	}

	displaced := NoUser
	if s.onlineOwner != NoUser && s.onlineOwner != user {
		displaced = s.onlineOwner
	}
	s.onlineOwner = user
	s.lastOnlineOwner = &LastOwner{UserID: user, LastActivityAt: r.now()}

	r.logger.Info("online channel claimed", "device_id", id, "user_id", user, "displaced", displaced)
	return displaced, nil
}

// SetOnlineUserDisconnected clears the online owner. With
// preventAutoReconnect the reconnect memory is dropped as well.
func (r *Registry) SetOnlineUserDisconnected(id ID, preventAutoReconnect bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	r.releaseOnlineLocked(id, s, preventAutoReconnect)
	return nil
}

// ReleaseOnline is SetOnlineUserDisconnected restricted to the current
// online owner. It fails with ErrNotOwner for anyone else.
func (r *Registry) ReleaseOnline(id ID, user UserID, preventAutoReconnect bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.onlineOwner != user {
		return ErrNotOwner
	}
	r.releaseOnlineLocked(id, s, preventAutoReconnect)
	return nil
}

func (r *Registry) releaseOnlineLocked(id ID, s *session, preventAutoReconnect bool) {
	r.logger.Info("online channel released",
		"device_id", id,
		"user_id", s.onlineOwner,
		"prevent_auto_reconnect", preventAutoReconnect,
	)
	s.onlineOwner = NoUser
	if preventAutoReconnect {
		s.lastOnlineOwner = nil
	}
}

// ReleaseUser drops every channel user holds on id, for a departing browser.
func (r *Registry) ReleaseUser(id ID, user UserID) ReleaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || user == NoUser {
		return ReleaseResult{}
	}

	var result ReleaseResult
	if s.serialOwner == user {
		s.serialOwner = NoUser
		result.ReleasedSerial = true
	}
	if s.onlineOwner == user {
		s.onlineOwner = NoUser
		result.ReleasedOnline = true
	}
	if result.ReleasedOnline || result.ReleasedSerial {
		r.logger.Info("departing user released device",
			"device_id", id,
			"user_id", user,
			"online", result.ReleasedOnline,
			"serial", result.ReleasedSerial,
		)
	}
	return result
}

// ReconnectLastOwner hands an online, ownerless device back to its last
// online owner when they are inside the window and have a browser socket.
func (r *Registry) ReconnectLastOwner(id ID) (UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.online || s.serialOwner != NoUser || s.onlineOwner != NoUser {
		return NoUser, false
	}

	now := r.now()
	last := r.validLastOwner(id, s, now)
	if last == nil || !r.hasActiveSocket(last.UserID) {
		return NoUser, false
	}

	s.onlineOwner = last.UserID
	last.LastActivityAt = now
	r.logger.Info("device reconnected to last owner", "device_id", id, "user_id", last.UserID)
	return last.UserID, true
}

// TouchActivity refreshes the reconnect memory for the current online
// owner and returns them (NoUser if unowned).
func (r *Registry) TouchActivity(id ID) UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.onlineOwner == NoUser {
		return NoUser
	}
	s.lastOnlineOwner = &LastOwner{UserID: s.onlineOwner, LastActivityAt: r.now()}
	return s.onlineOwner
}

// IsOnline reports whether the device socket is live.
func (r *Registry) IsOnline(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return ok && s.online
}

// Owner returns the user in control: the serial owner if set, else the
// online owner, else NoUser.
func (r *Registry) Owner(id ID) UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return NoUser
	}
	if s.serialOwner != NoUser {
		return s.serialOwner
	}
	return s.onlineOwner
}

// OnlineOwner returns the online-channel owner only.
func (r *Registry) OnlineOwner(id ID) UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s.onlineOwner
	}
	return NoUser
}

// Snapshot returns a copy of the session for id.
func (r *Registry) Snapshot(id ID) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Status{ID: id}, false
	}
	return s.status(id), true
}

// Connection returns the live handle for id, or nil when offline.
func (r *Registry) Connection(id ID) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && s.online {
		return s.conn
	}
	return nil
}

// AllOnlineDeviceIDs returns the online devices in sorted order.
func (r *Registry) AllOnlineDeviceIDs() []ID {
	r.mu.Lock()
	online := lo.Keys(lo.PickBy(r.sessions, func(_ ID, s *session) bool {
		return s.online
	}))
	r.mu.Unlock()

	slices.Sort(online)
	return online
}

// LastOwnedDevice finds an online, ownerless device whose unexpired last
// online owner is user, so a reloaded page can resume control. Expired
// reconnect memories met during the scan are pruned. When several devices
// match, the most recently active one wins.
func (r *Registry) LastOwnedDevice(user UserID) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var (
		found  ID
		latest time.Time
	)
	for id, s := range r.sessions {
		last := r.validLastOwner(id, s, now)
		if last == nil || last.UserID != user || !s.online || s.onlineOwner != NoUser {
			continue
		}
		if found == "" || last.LastActivityAt.After(latest) {
			found, latest = id, last.LastActivityAt
		}
	}
	return found, found != ""
}
