// Package sensor_simulator publishes synthetic sensor readings to the broker
// in every payload format the bridge accepts.
package sensor_simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is satisfied by broker.Publisher.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type SensorSimulator struct {
	publisher   Publisher
	topicPrefix string
	encoding    Encoding
	generators  []*DataGenerator
	log         zerolog.Logger
	seq         int
}

func NewSensorSimulator(publisher Publisher, topicPrefix string, enc Encoding, gens []*DataGenerator, log zerolog.Logger) *SensorSimulator {
	return &SensorSimulator{
		publisher:   publisher,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
		encoding:    enc,
		generators:  gens,
		log:         log,
	}
}

// Topic is where readings of sensor are published.
func (s *SensorSimulator) Topic(sensor string) string {
	if s.topicPrefix == "" {
		return sensor
	}
	return s.topicPrefix + "/" + sensor
}

func (s *SensorSimulator) nextEncoding() Encoding {
	if s.encoding != EncodingMixed {
		return s.encoding
	}
	e := Encodings[s.seq%len(Encodings)]
	s.seq++
	return e
}

// Tick publishes one sample per sensor. A failing sensor does not stop the
// others; the errors are joined.
func (s *SensorSimulator) Tick() error {
	var errs []error
	for _, g := range s.generators {
		sample := g.Next()
		enc := s.nextEncoding()
		payload, err := Encode(sample, enc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sample.Sensor, err))
			continue
		}
		topic := s.Topic(sample.Sensor)
		if err := s.publisher.Publish(topic, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Debug().Str("topic", topic).Str("encoding", string(enc)).Float64("value", sample.Value).Msg("published")
	}
	return errors.Join(errs...)
}

// Start publishes every interval until ctx is done or count ticks have been
// sent (count <= 0 means no limit).
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration, count int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		if err := s.Tick(); err != nil {
			s.log.Warn().Err(err).Msg("publish error")
		}
		sent++
		if count > 0 && sent >= count {
			s.log.Info().Int("ticks", sent).Msg("done")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
