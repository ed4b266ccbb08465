package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

type brokerStub bool

func (b brokerStub) Connected() bool { return bool(b) }

func healthStatus(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	return body.Status
}

func TestHealth(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, nil, zerolog.Nop())

	if got := healthStatus(t, NewHealthHandler(brokerStub(true), store, w)); got != "ok" {
		t.Fatalf("status = %s, want ok", got)
	}
	if got := healthStatus(t, NewHealthHandler(brokerStub(false), store, w)); got != "degraded" {
		t.Fatalf("status = %s, want degraded", got)
	}
	down := &fakeStore{pingErr: errors.New("refused")}
	if got := healthStatus(t, NewHealthHandler(brokerStub(false), down, w)); got != "down" {
		t.Fatalf("status = %s, want down", got)
	}

	store.fail = func(model.Destination, model.Reading) error { return errors.New("boom") }
	dest, _ := model.DefaultRegistry().ParseDestination("temperature")
	_, _ = w.Write(context.Background(), dest, model.Reading{Value: 1})
	if got := healthStatus(t, NewHealthHandler(brokerStub(true), store, w)); got != "degraded" {
		t.Fatalf("status after write error = %s, want degraded", got)
	}
}

func TestReady(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, nil, zerolog.Nop())
	mux := NewHTTPMux(brokerStub(true), store, w, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewReadyHandler(brokerStub(false), w, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz disconnected = %d, want 503", rec.Code)
	}

	store.fail = func(model.Destination, model.Reading) error { return errors.New("boom") }
	dest, _ := model.DefaultRegistry().ParseDestination("humidity")
	_, _ = w.Write(context.Background(), dest, model.Reading{Value: 1})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz after write error = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Dropped(ReasonInvalid)
	m.Connected(true)

	rec := httptest.NewRecorder()
	NewHTTPMux(brokerStub(true), &fakeStore{}, nil, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`sensorbridge_messages_dropped_total{reason="invalid"} 1`,
		`sensorbridge_messages_dropped_total{reason="panic"} 0`,
		`sensorbridge_broker_connected 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

type pooledStore struct {
	fakeStore
}

func (*pooledStore) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 3, InUse: 1} }

func TestHealthReportsPoolStats(t *testing.T) {
	store := &pooledStore{}
	rec := httptest.NewRecorder()
	NewHealthHandler(brokerStub(true), store, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body struct {
		Open  *int `json:"store_open_connections"`
		InUse *int `json:"store_in_use_connections"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Open == nil || *body.Open != 3 || body.InUse == nil || *body.InUse != 1 {
		t.Fatalf("pool stats = %v/%v", body.Open, body.InUse)
	}
}
