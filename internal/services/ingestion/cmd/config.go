package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/storage"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/broker"
)

type Config struct {
	Broker broker.Config
	Topic  string

	Store storage.Config

	Influx    storage.InfluxConfig
	RedisAddr string

	Workers   int
	QueueSize int

	LogLevel  string
	LogFormat string
	HTTPPort  int
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func loadConfig() Config {
	poolSize := envInt("DB_POOL_SIZE", 10)
	return Config{
		Broker: broker.Config{
			URL:            envStr("MQTT_URL", "tcp://localhost:1883"),
			ClientID:       envStr("MQTT_CLIENT_ID", envStr("HOSTNAME", "sensor-bridge-"+uuid.NewString())),
			User:           os.Getenv("MQTT_USER"),
			Password:       os.Getenv("MQTT_PASS"),
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxReconnect:   30 * time.Second,
		},
		Topic: envStr("MQTT_TOPIC", "sensors/#"),

		Store: storage.Config{
			Driver:          envStr("DB_DRIVER", storage.DriverMySQL),
			Host:            envStr("DB_HOST", "localhost"),
			Port:            envInt("DB_PORT", 0),
			User:            envStr("DB_USER", "root"),
			Password:        os.Getenv("DB_PASS"),
			Database:        envStr("DB_NAME", "mqtt_data"),
			PoolSize:        poolSize,
			BreakerFailures: 5,
			BreakerOpenFor:  5 * time.Second,
		},

		Influx: storage.InfluxConfig{
			URL:           os.Getenv("INFLUX_URL"),
			Token:         os.Getenv("INFLUX_TOKEN"),
			Org:           envStr("INFLUX_ORG", "sensors"),
			Bucket:        envStr("INFLUX_BUCKET", "readings"),
			BatchSize:     uint(envInt("INFLUX_BATCH_SIZE", 100)),
			FlushInterval: time.Duration(envInt("INFLUX_FLUSH_INTERVAL_MS", 1000)) * time.Millisecond,
		},
		RedisAddr: os.Getenv("REDIS_ADDR"),

		Workers:   envInt("INGEST_WORKERS", poolSize),
		QueueSize: envInt("INGEST_QUEUE_SIZE", 256),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),
		HTTPPort:  envInt("HTTP_PORT", 8080),
	}
}

// Validate rejects settings the bridge cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case storage.DriverMySQL, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want %s or %s", c.Store.Driver, storage.DriverMySQL, storage.DriverPostgres))
	}
	if c.Store.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("DB_POOL_SIZE must be positive, got %d", c.Store.PoolSize))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Workers))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_QUEUE_SIZE must be positive, got %d", c.QueueSize))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("MQTT_TOPIC is empty"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort))
	}
	return errors.Join(errs...)
}
