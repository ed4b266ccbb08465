package main

import (
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"MQTT_URL", "MQTT_TOPIC", "MQTT_CLIENT_ID", "DB_DRIVER", "DB_USER", "DB_NAME", "DB_POOL_SIZE", "INGEST_WORKERS", "INGEST_QUEUE_SIZE", "HTTP_PORT"} {
		t.Setenv(k, "")
	}
	t.Setenv("HOSTNAME", "bridge-7")

	cfg := loadConfig()
	if cfg.Broker.URL != "tcp://localhost:1883" || cfg.Topic != "sensors/#" || cfg.Broker.ClientID != "bridge-7" {
		t.Fatalf("broker defaults: %+v topic=%s", cfg.Broker, cfg.Topic)
	}
	if cfg.Store.Driver != "mysql" || cfg.Store.Database != "mqtt_data" || cfg.Store.User != "root" || cfg.Store.PoolSize != 10 {
		t.Fatalf("store defaults: %+v", cfg.Store)
	}
	if cfg.Workers != 10 || cfg.QueueSize != 256 || cfg.HTTPPort != 8080 {
		t.Fatalf("workers=%d queue=%d port=%d", cfg.Workers, cfg.QueueSize, cfg.HTTPPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadConfigClientIDFallback(t *testing.T) {
	t.Setenv("MQTT_CLIENT_ID", "")
	t.Setenv("HOSTNAME", "")
	if id := loadConfig().Broker.ClientID; !strings.HasPrefix(id, "sensor-bridge-") || len(id) <= len("sensor-bridge-") {
		t.Fatalf("client id = %q", id)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_POOL_SIZE", "4")
	t.Setenv("INGEST_WORKERS", "")
	t.Setenv("DB_PORT", "not-a-number")

	cfg := loadConfig()
	if cfg.Store.Driver != "postgres" || cfg.Store.PoolSize != 4 || cfg.Workers != 4 || cfg.Store.Port != 0 {
		t.Fatalf("cfg = %+v workers=%d", cfg.Store, cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	base := loadConfig()

	cases := map[string]func(*Config){
		"driver":  func(c *Config) { c.Store.Driver = "sqlite" },
		"pool":    func(c *Config) { c.Store.PoolSize = 0 },
		"workers": func(c *Config) { c.Workers = -1 },
		"queue":   func(c *Config) { c.QueueSize = 0 },
		"topic":   func(c *Config) { c.Topic = "" },
		"port":    func(c *Config) { c.HTTPPort = 70000 },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: invalid config accepted", name)
		}
	}
}
