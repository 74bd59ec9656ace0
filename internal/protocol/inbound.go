package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound routes.
const (
	RouteInitialData  = "/device-initial-data"
	RouteSensorData   = "/sensor-data"
	RouteSensorDataMZ = "/sensor-data-mz"
	RouteBatteryFull  = "/battery-monitor-data-full"
	RouteTurningOff   = "/pip-turning-off"
	RouteDinoScore    = "/dino-score"
)

var knownRoutes = map[string]bool{
	RouteInitialData:  true,
	RouteSensorData:   true,
	RouteSensorDataMZ: true,
	RouteBatteryFull:  true,
	RouteTurningOff:   true,
	RouteDinoScore:    true,
}

// Inbound is one decoded device frame. Payload is kept raw so it can be
// forwarded to browsers unchanged.
type Inbound struct {
	Route   string          `json:"route"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Legacy  bool            `json:"-"`
}

// InitialData is sent once after connecting.
type InitialData struct {
	PipID           string `json:"pipId"`
	FirmwareVersion int    `json:"firmwareVersion"`
	HardwareVersion string `json:"hardwareVersion,omitempty"`
}

// BatteryData is the full battery monitor report.
type BatteryData struct {
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	Percentage    float64 `json:"percentage"`
	IsCharging    bool    `json:"isCharging"`
	MinutesToFull float64 `json:"minutesToFull,omitempty"`
}

// DinoScore is the score of a finished dino game.
type DinoScore struct {
	Score int `json:"score"`
}

type rawInbound struct {
	Route           string          `json:"route"`
	Payload         json.RawMessage `json:"payload"`
	PipID           string          `json:"pipId"`
	FirmwareVersion *int            `json:"firmwareVersion"`
}

// DecodeInbound parses a device text frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if raw.Route == "" {
		if raw.PipID == "" || raw.FirmwareVersion == nil {
			return Inbound{}, fmt.Errorf("%w: missing route", ErrMalformedFrame)
		}
		payload, err := json.Marshal(InitialData{PipID: raw.PipID, FirmwareVersion: *raw.FirmwareVersion})
		if err != nil {
			return Inbound{}, fmt.Errorf("re-encoding registration: %w", err)
		}
		return Inbound{Route: RouteInitialData, Payload: payload, Legacy: true}, nil
	}

	if !knownRoutes[raw.Route] {
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownRoute, raw.Route)
	}
	return Inbound{Route: raw.Route, Payload: raw.Payload}, nil
}

// Decode unmarshals the payload into v.
func (in Inbound) Decode(v any) error {
	if len(in.Payload) == 0 || bytes.Equal(in.Payload, []byte("null")) {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedFrame, in.Route)
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrMalformedFrame, in.Route, err)
	}
	return nil
}

// NumericFields flattens the numeric and boolean leaves of a JSON object
// into dotted keys. Booleans become 0 or 1. Arrays are indexed.
func NumericFields(payload json.RawMessage) map[string]float64 {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	out := make(map[string]float64)
	flatten("", v, out)
	return out
}

func flatten(prefix string, v any, out map[string]float64) {
	switch val := v.(type) {
	case float64:
		if prefix != "" {
			out[prefix] = val
		}
	case bool:
		if prefix != "" {
			out[prefix] = 0
			if val {
				out[prefix] = 1
			}
		}
	case map[string]any:
		for k, item := range val {
			flatten(join(prefix, k), item, out)
		}
	case []any:
		for i, item := range val {
			flatten(join(prefix, strconv.Itoa(i)), item, out)
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
