package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// ErrInvalidReading marks a decoded payload without a usable numeric value.
var ErrInvalidReading = errors.New("no numeric sensor value")

var (
	timestampFields = []string{"timestamp", "time"}
	valueFields     = []string{"sensor_reading", "value", "reading"}
	deviceFields    = []string{"serial_no", "serial", "device"}
)

// layouts accepted for textual timestamps, tried in order. Layouts without a
// zone are read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds: 1e11
// seconds is the year 5138, 1e11 milliseconds is March 1973.
const epochMillisThreshold = 1e11

// maxEpochMillis is 9999-12-31T23:59:59.999Z.
const maxEpochMillis = 253402300799999

// Normalizer turns decoded fields into a Reading.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize validates f. The timestamp falls back to now, the device id is
// optional, the value is mandatory and must be finite.
func (n *Normalizer) Normalize(f model.Fields) (model.Reading, error) {
	var r model.Reading

	r.Timestamp = n.now().UTC()
	for _, k := range timestampFields {
		if ts, ok := parseTimestamp(f[k]); ok {
			r.Timestamp = ts
			break
		}
	}

	key, raw, ok := firstPresent(f, valueFields)
	if !ok {
		return model.Reading{}, fmt.Errorf("%w: none of %s present", ErrInvalidReading, strings.Join(valueFields, ", "))
	}
	v, ok := toFloat(raw)
	if !ok {
		return model.Reading{}, fmt.Errorf("%w: %s=%v is not a number", ErrInvalidReading, key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Reading{}, fmt.Errorf("%w: %s=%v is not finite", ErrInvalidReading, key, raw)
	}
	r.Value = v

	for _, k := range deviceFields {
		if id, ok := toDeviceID(f[k]); ok {
			r.DeviceID = id
			break
		}
	}
	return r, nil
}

func firstPresent(f model.Fields, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		// numeric strings are read as epochs
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}, false
	}
	if f, ok := toFloat(v); ok {
		return fromEpoch(f)
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > maxEpochMillis {
		return time.Time{}, false
	}
	if f >= epochMillisThreshold {
		ms := int64(f)
		return time.UnixMilli(ms).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func toDeviceID(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	case bool:
		return "", false
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}
