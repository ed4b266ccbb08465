package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func nowFunc() time.Time { return fixedNow }

type storedRow struct {
	Dest    string
	Reading model.Reading
	ID      int64
}

// fakeStore is an in-memory Appender and Pinger.
type fakeStore struct {
	mu      sync.Mutex
	rows    []storedRow
	nextID  int64
	fail    func(dest model.Destination, r model.Reading) error
	pingErr error
}

func (s *fakeStore) Append(_ context.Context, dest model.Destination, r model.Reading) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(dest, r); err != nil {
			return 0, err
		}
	}
	s.nextID++
	s.rows = append(s.rows, storedRow{Dest: dest.String(), Reading: r, ID: s.nextID})
	return s.nextID, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) Rows() []storedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedRow(nil), s.rows...)
}

type fakeMirror struct {
	mu     sync.Mutex
	ids    []int64
	err    error
	closed bool
}

func (m *fakeMirror) Name() string { return "fake" }

func (m *fakeMirror) Mirror(_ context.Context, _ model.Destination, id int64, _ model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	return m.err
}

func (m *fakeMirror) Close() error {
	m.closed = true
	return nil
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeSubscriber fails the first failFirst subscriptions.
type fakeSubscriber struct {
	mu         sync.Mutex
	subscribes int
	unsubs     int
	failFirst  int
}

func (f *fakeSubscriber) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribes <= f.failFirst {
		return &fakeToken{timeout: true}
	}
	return &fakeToken{}
}

func (f *fakeSubscriber) Unsubscribe(...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs++
	return &fakeToken{}
}

func (f *fakeSubscriber) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubs
}

func newTestPipeline(t *testing.T, store Appender, mirrors ...Mirror) (*Pipeline, *Writer, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	w := NewWriter(store, m, zerolog.Nop(), mirrors...)
	p := NewPipeline(
		NewResolver(model.DefaultRegistry()),
		NewDecoder(nowFunc),
		NewNormalizer(nowFunc),
		w,
		m,
		zerolog.Nop(),
	)
	return p, w, m
}

func rawMessage(topic, payload string) model.RawMessage {
	return model.NewRawMessage(topic, []byte(payload), fixedNow)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
