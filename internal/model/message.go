// Package model holds the types shared by the bridge: the sensor registry,
// inbound broker messages and normalized readings.
package model

import (
	"strings"
	"time"
)

// RawMessage is one inbound broker message, consumed once by the pipeline.
type RawMessage struct {
	Topic      string
	Path       []string
	Payload    []byte
	ReceivedAt time.Time
}

// NewRawMessage builds a RawMessage that owns a copy of payload.
func NewRawMessage(topic string, payload []byte, at time.Time) RawMessage {
	p := make([]byte, len(payload))
	copy(p, payload)
	return RawMessage{
		Topic:      topic,
		Path:       SplitTopic(topic),
		Payload:    p,
		ReceivedAt: at,
	}
}

// SplitTopic splits an MQTT topic on '/' and drops empty segments, so
// "sensors//a/" yields ["sensors", "a"].
func SplitTopic(topic string) []string {
	parts := strings.Split(topic, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
