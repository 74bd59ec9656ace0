package protocol

import (
	"errors"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantRoute  string
		wantLegacy bool
		wantErr    error
	}{
		{"sensor data", `{"route":"/sensor-data","payload":{"distance":12}}`, RouteSensorData, false, nil},
		{"turning off without payload", `{"route":"/pip-turning-off"}`, RouteTurningOff, false, nil},
		{"legacy registration", `{"pipId":"AB12X","firmwareVersion":3}`, RouteInitialData, true, nil},
		{"legacy missing version", `{"pipId":"AB12X"}`, "", false, ErrMalformedFrame},
		{"unknown route", `{"route":"/self-destruct"}`, "", false, ErrUnknownRoute},
		{"no route", `{"payload":{}}`, "", false, ErrMalformedFrame},
		{"not json", `hello`, "", false, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeInbound() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeInbound() error = %v", err)
			}
			if got.Route != tt.wantRoute || got.Legacy != tt.wantLegacy {
				t.Errorf("DecodeInbound() = {%s legacy=%v}, want {%s legacy=%v}",
					got.Route, got.Legacy, tt.wantRoute, tt.wantLegacy)
			}
		})
	}
}

func TestInbound_DecodeLegacyRegistration(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"pipId":"AB12X","firmwareVersion":3}`))
	if err != nil {
		t.Fatalf("DecodeInbound() error = %v", err)
	}

	var data InitialData
	if err := in.Decode(&data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if data.PipID != "AB12X" || data.FirmwareVersion != 3 {
		t.Errorf("InitialData = %+v", data)
	}
}

func TestInbound_DecodeTyped(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"route":"/dino-score","payload":{"score":314}}`))
	if err != nil {
		t.Fatalf("DecodeInbound() error = %v", err)
	}
	var score DinoScore
	if err := in.Decode(&score); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if score.Score != 314 {
		t.Errorf("Score = %d, want 314", score.Score)
	}

	empty := Inbound{Route: RouteBatteryFull}
	var battery BatteryData
	if err := empty.Decode(&battery); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Decode(no payload) error = %v, want ErrMalformedFrame", err)
	}

	bad := Inbound{Route: RouteBatteryFull, Payload: []byte(`{"voltage":"high"}`)}
	if err := bad.Decode(&battery); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Decode(wrong type) error = %v, want ErrMalformedFrame", err)
	}
}

func TestNumericFields(t *testing.T) {
	got := NumericFields([]byte(`{
		"voltage": 3.7,
		"isCharging": true,
		"label": "left",
		"accel": {"x": 1, "y": -2},
		"mz": [10, 20]
	}`))

	want := map[string]float64{
		"voltage":    3.7,
		"isCharging": 1,
		"accel.x":    1,
		"accel.y":    -2,
		"mz.0":       10,
		"mz.1":       20,
	}
	if len(got) != len(want) {
		t.Fatalf("NumericFields() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("NumericFields()[%q] = %v, want %v", k, got[k], v)
		}
	}

	if got := NumericFields([]byte(`not json`)); got != nil {
		t.Errorf("NumericFields(invalid) = %v, want nil", got)
	}
}
