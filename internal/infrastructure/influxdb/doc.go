// Package influxdb writes Pip telemetry and session transitions to InfluxDB v2.
//
// Two measurements are produced:
//   - pip_telemetry: numeric fields from inbound device messages
//     (battery level, sensor readings, game scores), tagged by device_id and route
//   - pip_session: connect, disconnect and ownership transitions,
//     tagged by device_id and action
//
// Writes are batched and never block the caller. The client is optional:
// when disabled, Connect returns ErrDisabled and pip-core runs without it.
package influxdb
