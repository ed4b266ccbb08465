package model

import "time"

// Fields is a decoded payload: field name to value. Values are whatever the
// decoder produced (json.Number, float64, string, ...); the normalizer coerces.
type Fields map[string]any

// Reading is a validated measurement ready to be stored.
type Reading struct {
	Timestamp time.Time // zero means "let the store pick NOW()"
	Value     float64   // always finite
	DeviceID  string    // empty when the payload carried no serial
}
