package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
	"github.com/LeonardoBeccarini/sensor-bridge/internal/services/ingestion"
	"github.com/LeonardoBeccarini/sensor-bridge/internal/storage"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/broker"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/logging"
)

func main() {
	cfg := loadConfig()
	log := logging.New("sensor-bridge", cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingestion.NewMetrics(reg)

	// === Store ===
	store, err := storage.Open(ctx, cfg.Store, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Str("host", cfg.Store.Host).Msg("store unreachable")
	}

	var mirrors []ingestion.Mirror
	if cfg.Influx.URL != "" {
		mirrors = append(mirrors, storage.NewInfluxMirror(cfg.Influx, log.With().Str("component", "influx").Logger()))
		log.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("influx mirror enabled")
	}
	if cfg.RedisAddr != "" {
		rc, err := storage.NewRedisLatest(ctx, cfg.RedisAddr, 0)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, latest-value cache disabled")
		} else {
			mirrors = append(mirrors, rc)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis latest-value cache enabled")
		}
	}

	// === Pipeline ===
	plog := log.With().Str("component", "ingestion").Logger()
	writer := ingestion.NewWriter(store, metrics, plog, mirrors...)
	pipeline := ingestion.NewPipeline(
		ingestion.NewResolver(model.DefaultRegistry()),
		ingestion.NewDecoder(time.Now),
		ingestion.NewNormalizer(time.Now),
		writer,
		metrics,
		plog,
	)
	loop := ingestion.NewLoop(pipeline, metrics, ingestion.LoopConfig{Workers: cfg.Workers, QueueSize: cfg.QueueSize}, plog)

	// === HTTP ===
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           ingestion.NewHTTPMux(loop, store, writer, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// === MQTT ===
	blog := log.With().Str("component", "broker").Logger()
	client, err := broker.Connect(ctx, broker.NewClientOptions(&cfg.Broker, loop.Handlers()), blog)
	if err != nil {
		// only a shutdown request ends the connect retries
		log.Info().Err(err).Msg("shutdown before broker connection")
		shutdown(hs, writer, store, log)
		return
	}
	consumer := broker.NewConsumer(client, cfg.Topic, 1, loop.HandleMessage)

	loop.Run(ctx, consumer)

	log.Info().Msg("shutting down")
	broker.Close(client, blog)
	shutdown(hs, writer, store, log)
}

func shutdown(hs *http.Server, writer *ingestion.Writer, store *storage.SQLStore, log zerolog.Logger) {
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shCtx)
	if err := writer.Close(); err != nil {
		log.Warn().Err(err).Msg("closing mirrors")
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store")
	}
}
