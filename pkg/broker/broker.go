package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Config describes the broker connection.
type Config struct {
	URL            string // tcp://host:1883, mqtt://..., ssl://...
	ClientID       string
	User           string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	MaxReconnect   time.Duration // upper bound of paho's reconnect backoff
}

// Handlers are called from paho's goroutines. They must not block for long.
type Handlers struct {
	OnConnect      func()
	OnLost         func(err error)
	OnReconnecting func()
}

// NewClientOptions builds paho options with auto-reconnect on and clean
// sessions, so subscriptions have to be renewed from OnConnect. Messages are
// delivered in order from paho's router goroutine: a handler that blocks
// holds back further deliveries.
func NewClientOptions(cfg *Config, h Handlers) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnect)
	}

	if h.OnConnect != nil {
		opts.SetOnConnectHandler(func(mqtt.Client) { h.OnConnect() })
	}
	if h.OnLost != nil {
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { h.OnLost(err) })
	}
	if h.OnReconnecting != nil {
		opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) { h.OnReconnecting() })
	}
	return opts
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds or ctx is done. A broker that is down at boot is not fatal.
func Connect(ctx context.Context, opts *mqtt.ClientOptions, log zerolog.Logger) (mqtt.Client, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // forever, bounded by ctx

	var client mqtt.Client
	op := func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("broker connect failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, err)
		}
		return nil, fmt.Errorf("could not establish MQTT connection: %w", err)
	}

	log.Info().Strs("brokers", brokerList(opts)).Msg("connected to MQTT broker")
	return client, nil
}

// Close disconnects, giving in-flight work 250ms to quiesce.
func Close(client mqtt.Client, log zerolog.Logger) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}
}

func brokerList(opts *mqtt.ClientOptions) []string {
	out := make([]string, 0, len(opts.Servers))
	for _, u := range opts.Servers {
		out = append(out, u.Redacted())
	}
	return out
}
