package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BrokerState reports broker connectivity. Loop implements it.
type BrokerState interface {
	Connected() bool
}

// Pinger checks that the store is reachable. storage.SQLStore implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// poolStats is implemented by stores backed by a database/sql pool.
type poolStats interface {
	Stats() sql.DBStats
}

type healthHandler struct {
	broker BrokerState
	store  Pinger
	writer *Writer
}

func NewHealthHandler(b BrokerState, s Pinger, w *Writer) http.Handler {
	return &healthHandler{broker: b, store: s, writer: w}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		BrokerConnected bool    `json:"broker_connected"`
		StoreOK         bool    `json:"store_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
		OpenConns       *int    `json:"store_open_connections,omitempty"`
		InUseConns      *int    `json:"store_in_use_connections,omitempty"`
	}
	st := status{
		BrokerConnected: h.broker != nil && h.broker.Connected(),
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		st.StoreOK = h.store.Ping(ctx) == nil
		cancel()
	}
	if ps, ok := h.store.(poolStats); ok {
		stats := ps.Stats()
		st.OpenConns, st.InUseConns = &stats.OpenConnections, &stats.InUse
	}

	switch {
	case st.BrokerConnected && st.StoreOK && h.writer.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.BrokerConnected || st.StoreOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only while the broker is connected and the store
// has not failed for at least minError.
type readyHandler struct {
	broker   BrokerState
	writer   *Writer
	minError time.Duration
}

func NewReadyHandler(b BrokerState, w *Writer, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{broker: b, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.broker != nil && h.broker.Connected() && h.writer.LastErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}

// NewHTTPMux serves /healthz, /readyz and /metrics.
func NewHTTPMux(b BrokerState, s Pinger, w *Writer, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHealthHandler(b, s, w))
	mux.Handle("/readyz", NewReadyHandler(b, w, 2*time.Second))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
