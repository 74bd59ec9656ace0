package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by pip-core.
const (
	// MeasurementTelemetry holds numeric readings reported by devices.
	MeasurementTelemetry = "pip_telemetry"

	// MeasurementSession holds connection and ownership transitions.
	MeasurementSession = "pip_session"
)

// WriteTelemetry records the numeric fields of one inbound device message.
// Empty field sets are dropped.
func (c *Client) WriteTelemetry(deviceID, route string, fields map[string]float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if point := telemetryPoint(deviceID, route, fields, at); point != nil {
		c.writeAPI.WritePoint(point)
	}
}

// WriteSessionEvent records a session transition such as device_connected
// or online_claimed. userID is zero when no user is involved.
func (c *Client) WriteSessionEvent(deviceID, action string, userID int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionPoint(deviceID, action, userID, at))
}

func telemetryPoint(deviceID, route string, fields map[string]float64, at time.Time) *write.Point {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{
			"device_id": deviceID,
			"route":     route,
		},
		values,
		at,
	)
}

func sessionPoint(deviceID, action string, userID int64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSession,
		map[string]string{
			"device_id": deviceID,
			"action":    action,
		},
		map[string]interface{}{
			"user_id": userID,
		},
		at,
	)
}
