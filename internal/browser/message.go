package browser

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/pip-core/internal/device"
)

// Message types on the browser socket.
const (
	TypeEvent         = "event"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeResponse      = "response"
	TypeError         = "error"
	TypeDeviceCommand = "device-command"
)

// Event names delivered to users.
const (
	EventConnectionStatus  = "pip-connection-status-update"
	EventBatteryMonitor    = "battery-monitor-data"
	EventSensorData        = "sensor-data"
	EventSensorDataMZ      = "sensor-data-mz"
	EventDinoScore         = "dino-score"
	EventDeviceInitialData = "device-initial-data"
)

// Connection statuses carried by EventConnectionStatus.
const (
	StatusConnected = "connected"
	StatusOffline   = "offline"
)

// Reasons attached to an offline status.
const (
	ReasonDeviceDisconnected = "device_disconnected"
	ReasonDeviceShutdown     = "device_shutdown"
	ReasonDisplaced          = "displaced"
	ReasonSerialTakeover     = "serial_takeover"
	ReasonReleased           = "released"
)

// Message is one frame on the browser socket.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Inbound is a frame received from a browser. Payload is left raw for the
// handler to decode.
type Inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionStatus is the payload of EventConnectionStatus.
type ConnectionStatus struct {
	DeviceID device.ID `json:"pip_id"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
}

// DeviceData wraps a device payload forwarded to its owner unchanged.
type DeviceData struct {
	DeviceID device.ID       `json:"pip_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// encodeEvent marshals an event frame stamped with at.
func encodeEvent(eventType string, payload any, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Type:      TypeEvent,
		EventType: eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}
