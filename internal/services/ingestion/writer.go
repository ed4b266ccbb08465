package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// Appender is the durable store. storage.SQLStore implements it.
type Appender interface {
	Append(ctx context.Context, dest model.Destination, r model.Reading) (int64, error)
}

// Mirror receives a copy of every stored reading (InfluxDB, Redis).
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, dest model.Destination, id int64, r model.Reading) error
	Close() error
}

// Writer appends readings to the store, fans them out to mirrors and
// remembers when the last store error happened for /healthz and /readyz.
type Writer struct {
	store   Appender
	mirrors []Mirror
	metrics *Metrics
	log     zerolog.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewWriter(store Appender, metrics *Metrics, log zerolog.Logger, mirrors ...Mirror) *Writer {
	return &Writer{
		store:   store,
		mirrors: mirrors,
		metrics: metrics,
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour), // "long ago"
	}
}

// Write appends r to dest. Mirror failures are logged and do not fail the
// write: the store is the source of truth.
func (w *Writer) Write(ctx context.Context, dest model.Destination, r model.Reading) (int64, error) {
	start := time.Now()
	id, err := w.store.Append(ctx, dest, r)
	w.metrics.AppendLatency(time.Since(start).Seconds())
	if err != nil {
		w.mu.Lock()
		w.lastErr = time.Now()
		w.mu.Unlock()
		return 0, err
	}
	w.metrics.Stored(dest.String())

	for _, m := range w.mirrors {
		if err := m.Mirror(ctx, dest, id, r); err != nil {
			w.log.Warn().Err(err).Str("mirror", m.Name()).Str("destination", dest.String()).Int64("id", id).Msg("mirror write failed")
		}
	}
	return id, nil
}

// LastErrorAge reports how long ago the store last failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Close closes the mirrors. The store is owned by the caller.
func (w *Writer) Close() error {
	var errs []error
	for _, m := range w.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
