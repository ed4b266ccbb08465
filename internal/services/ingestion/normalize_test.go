package ingestion

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

func TestNormalizeValue(t *testing.T) {
	n := NewNormalizer(nowFunc)
	cases := []struct {
		name   string
		fields model.Fields
		want   float64
	}{
		{"sensor_reading number", model.Fields{"sensor_reading": json.Number("23.7")}, 23.7},
		{"value alias", model.Fields{"value": 12.5}, 12.5},
		{"reading alias", model.Fields{"reading": int64(-4)}, -4},
		{"numeric string", model.Fields{"value": " 19.25 "}, 19.25},
		{"cbor unsigned", model.Fields{"reading": uint64(7)}, 7},
		{"zero is a value", model.Fields{"sensor_reading": json.Number("0"), "value": json.Number("5")}, 0},
		{"null skipped", model.Fields{"sensor_reading": nil, "value": 3.0}, 3},
		{"sensor_reading first", model.Fields{"sensor_reading": 1.0, "value": 2.0, "reading": 3.0}, 1},
	}
	for _, c := range cases {
		r, err := n.Normalize(c.fields)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if r.Value != c.want {
			t.Fatalf("%s: value = %v, want %v", c.name, r.Value, c.want)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	n := NewNormalizer(nowFunc)
	cases := map[string]model.Fields{
		"empty":           {},
		"unrelated":       {"temp": 21.0},
		"non numeric":     {"sensor_reading": "hot"},
		"partial number":  {"sensor_reading": "21.5C"},
		"bool":            {"value": true},
		"object":          {"value": map[string]any{"v": 1}},
		"NaN string":      {"value": "NaN"},
		"Inf string":      {"value": "+Inf"},
		"NaN float":       {"value": math.NaN()},
		"overflow":        {"sensor_reading": json.Number("1e400")},
		"present but bad": {"sensor_reading": "x", "value": 2.0},
	}
	for name, f := range cases {
		if _, err := n.Normalize(f); !errors.Is(err, ErrInvalidReading) {
			t.Fatalf("%s: err = %v, want ErrInvalidReading", name, err)
		}
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	n := NewNormalizer(nowFunc)
	noon := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		ts   any
		want time.Time
	}{
		{"rfc3339", "2024-05-01T12:00:00Z", noon},
		{"rfc3339 offset", "2024-05-01T14:00:00+02:00", noon},
		{"sql layout", "2024-05-01 12:00:00", noon},
		{"naive iso", "2024-05-01T12:00:00", noon},
		{"epoch seconds", json.Number("1714564800"), noon},
		{"epoch seconds string", "1714564800", noon},
		{"epoch millis", json.Number("1714564800000"), noon},
		{"epoch fractional", 1714564800.5, noon.Add(500 * time.Millisecond)},
		{"time value", noon.In(time.FixedZone("X", 3600)), noon},
		{"garbage falls back", "yesterday", fixedNow},
		{"negative falls back", json.Number("-5"), fixedNow},
		{"far future falls back", json.Number("1e20"), fixedNow},
		{"absent", nil, fixedNow},
	}
	for _, c := range cases {
		f := model.Fields{"value": 1.0}
		if c.ts != nil {
			f["timestamp"] = c.ts
		}
		r, err := n.Normalize(f)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !r.Timestamp.Equal(c.want) {
			t.Fatalf("%s: timestamp = %v, want %v", c.name, r.Timestamp, c.want)
		}
		if r.Timestamp.Location() != time.UTC {
			t.Fatalf("%s: timestamp not UTC: %v", c.name, r.Timestamp.Location())
		}
	}
}

func TestNormalizeTimeField(t *testing.T) {
	n := NewNormalizer(nowFunc)
	r, err := n.Normalize(model.Fields{"value": 1.0, "timestamp": "bogus", "time": "2024-05-01T12:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC); !r.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", r.Timestamp, want)
	}
}

func TestNormalizeDevice(t *testing.T) {
	n := NewNormalizer(nowFunc)
	cases := []struct {
		fields model.Fields
		want   string
	}{
		{model.Fields{"serial_no": "VOL-1"}, "VOL-1"},
		{model.Fields{"serial": json.Number("42")}, "42"},
		{model.Fields{"device": 7.0}, "7"},
		{model.Fields{"serial_no": "", "serial": "S-2"}, "S-2"},
		{model.Fields{"serial_no": "  "}, ""},
		{model.Fields{"serial_no": true}, ""},
		{model.Fields{}, ""},
	}
	for _, c := range cases {
		c.fields["value"] = 1.0
		r, err := n.Normalize(c.fields)
		if err != nil {
			t.Fatal(err)
		}
		if r.DeviceID != c.want {
			t.Fatalf("device for %v = %q, want %q", c.fields, r.DeviceID, c.want)
		}
	}
}
