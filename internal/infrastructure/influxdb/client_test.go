package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pip-core/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Live(t *testing.T) {
	url := os.Getenv("PIPCORE_TEST_INFLUXDB_URL")
	if url == "" {
		t.Skip("PIPCORE_TEST_INFLUXDB_URL not set, skipping integration test")
	}

	client, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     url,
		Token:   os.Getenv("PIPCORE_TEST_INFLUXDB_TOKEN"),
		Org:     "pip",
		Bucket:  "telemetry",
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteTelemetry("AB12X", "/battery-monitor-data-full", map[string]float64{"battery_level": 87}, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestDisconnectedClient_IsNoop(t *testing.T) {
	c := &Client{}

	c.WriteTelemetry("AB12X", "/sensor-data", map[string]float64{"x": 1}, time.Now())
	c.WriteSessionEvent("AB12X", "device_connected", 0, time.Now())
	c.Flush()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestTelemetryPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)

	if p := telemetryPoint("AB12X", "/sensor-data", nil, at); p != nil {
		t.Error("telemetryPoint() with no fields should be nil")
	}

	p := telemetryPoint("AB12X", "/battery-monitor-data-full", map[string]float64{"battery_level": 87.5}, at)
	line := write.PointToLineProtocol(p, time.Second)

	for _, want := range []string{
		"pip_telemetry,",
		"device_id=AB12X",
		"route=/battery-monitor-data-full",
		"battery_level=87.5",
		"1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestSessionPoint(t *testing.T) {
	p := sessionPoint("AB12X", "online_claimed", 7, time.Unix(1700000000, 0))
	line := write.PointToLineProtocol(p, time.Second)

	for _, want := range []string{"pip_session,", "action=online_claimed", "device_id=AB12X", "user_id=7i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}
