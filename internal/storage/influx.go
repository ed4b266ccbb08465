package storage

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// InfluxConfig enables the time-series mirror when URL is set.
type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// InfluxMirror copies stored readings to InfluxDB through the non-blocking
// write API. Failures are logged from the error channel, they never reach the
// ingestion path.
type InfluxMirror struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func NewInfluxMirror(cfg InfluxConfig, log zerolog.Logger) *InfluxMirror {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	w := client.WriteAPI(cfg.Org, cfg.Bucket)

	go func() {
		for err := range w.Errors() {
			if err != nil {
				log.Error().Err(err).Str("mirror", "influx").Msg("influx write error")
			}
		}
	}()
	return &InfluxMirror{client: client, write: w}
}

func (m *InfluxMirror) Name() string { return "influx" }

// Mirror queues the point; the write API batches and flushes on its own.
func (m *InfluxMirror) Mirror(_ context.Context, dest model.Destination, id int64, r model.Reading) error {
	m.write.WritePoint(ReadingToPoint(dest, id, r))
	return nil
}

// Close flushes pending points and closes the client.
func (m *InfluxMirror) Close() error {
	m.write.Flush()
	m.client.Close()
	return nil
}

// ReadingToPoint maps a stored reading onto the "sensor_reading" measurement.
func ReadingToPoint(dest model.Destination, id int64, r model.Reading) *write.Point {
	tags := map[string]string{
		"destination": dest.String(),
	}
	if r.DeviceID != "" {
		tags["serial_no"] = r.DeviceID
	}
	fields := map[string]interface{}{
		"value":  r.Value,
		"row_id": id,
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint("sensor_reading", tags, fields, ts)
}
