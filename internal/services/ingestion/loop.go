package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/broker"
)

const (
	defaultQueueSize = 256
	resubscribeDelay = 5 * time.Second
)

type eventKind int

const (
	eventConnected eventKind = iota
	eventLost
	eventReconnecting
)

type connEvent struct {
	kind eventKind
	err  error
}

// LoopConfig sizes the worker pool and the hand-off queue.
type LoopConfig struct {
	Workers   int
	QueueSize int
}

// Loop moves messages from paho's callbacks to a pool of workers running the
// Pipeline, and keeps the subscription alive across reconnects.
//
// paho callbacks never touch the store: they only enqueue. The client must be
// built with ordered delivery (broker.NewClientOptions does this) so paho
// calls HandleMessage from its single router goroutine; a full queue then
// blocks that goroutine and paho stops reading further packets.
type Loop struct {
	pipeline *Pipeline
	metrics  *Metrics
	log      zerolog.Logger
	workers  int

	queue     chan model.RawMessage
	events    chan connEvent
	done      chan struct{}
	connected atomic.Bool

	// closed is set under mu; HandleMessage holds the read lock across its
	// send so no message is queued after the workers start draining.
	mu     sync.RWMutex
	closed bool

	now func() time.Time
}

func NewLoop(p *Pipeline, metrics *Metrics, cfg LoopConfig, log zerolog.Logger) *Loop {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Loop{
		pipeline: p,
		metrics:  metrics,
		log:      log,
		workers:  cfg.Workers,
		queue:    make(chan model.RawMessage, cfg.QueueSize),
		events:   make(chan connEvent, 16),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Handlers returns the connection callbacks to install on the broker client.
func (l *Loop) Handlers() broker.Handlers {
	return broker.Handlers{
		OnConnect:      func() { l.post(connEvent{kind: eventConnected}) },
		OnLost:         func(err error) { l.post(connEvent{kind: eventLost, err: err}) },
		OnReconnecting: func() { l.post(connEvent{kind: eventReconnecting}) },
	}
}

func (l *Loop) post(ev connEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// HandleMessage is the mqtt.MessageHandler for the sensor subscription.
func (l *Loop) HandleMessage(_ mqtt.Client, m mqtt.Message) {
	msg := model.NewRawMessage(m.Topic(), m.Payload(), l.now())

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.Warn().Str("topic", msg.Topic).Msg("message arrived during shutdown, dropped")
		return
	}
	l.queue <- msg
	l.metrics.QueueLength(len(l.queue))
}

// stop refuses further messages and releases the workers into their drain.
// It waits for in-flight HandleMessage sends, which the still running
// workers unblock.
func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

// Connected reports whether the broker session is currently up.
func (l *Loop) Connected() bool { return l.connected.Load() }

// Run starts the workers and supervises the connection until ctx is done.
// It then unsubscribes, lets the workers drain the queue and returns.
// Appends already started are not cancelled by ctx.
func (l *Loop) Run(ctx context.Context, consumer *broker.Consumer) {
	storeCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.work(storeCtx)
		}()
	}
	l.log.Info().Int("workers", l.workers).Int("queue", cap(l.queue)).Str("topic", consumer.Topic()).Msg("ingestion loop started")

	l.supervise(ctx, consumer)

	if l.Connected() {
		consumer.Unsubscribe()
	}
	l.stop()
	wg.Wait()
	if n := len(l.queue); n > 0 {
		l.log.Warn().Int("messages", n).Msg("messages left in queue after drain")
	}
	l.log.Info().Msg("ingestion loop stopped")
}

func (l *Loop) supervise(ctx context.Context, consumer *broker.Consumer) {
	var retry <-chan time.Time
	subscribe := func() {
		if err := consumer.Subscribe(); err != nil {
			l.log.Error().Err(err).Dur("retry_in", resubscribeDelay).Msg("subscribe failed")
			retry = time.After(resubscribeDelay)
			return
		}
		retry = nil
		l.log.Info().Str("topic", consumer.Topic()).Msg("subscribed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry:
			retry = nil
			if l.Connected() {
				subscribe()
			}
		case ev := <-l.events:
			switch ev.kind {
			case eventConnected:
				l.connected.Store(true)
				l.metrics.Connected(true)
				l.log.Info().Msg("broker connected")
				subscribe()
			case eventLost:
				l.connected.Store(false)
				l.metrics.Connected(false)
				retry = nil
				l.log.Warn().Err(ev.err).Msg("broker connection lost")
			case eventReconnecting:
				l.log.Info().Msg("reconnecting to broker")
			}
		}
	}
}

func (l *Loop) work(ctx context.Context) {
	for {
		select {
		case msg := <-l.queue:
			l.metrics.QueueLength(len(l.queue))
			l.pipeline.Handle(ctx, msg)
		case <-l.done:
			for {
				select {
				case msg := <-l.queue:
					l.pipeline.Handle(ctx, msg)
				default:
					l.metrics.QueueLength(0)
					return
				}
			}
		}
	}
}
