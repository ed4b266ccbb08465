package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/sensor-bridge/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/broker"
	"github.com/LeonardoBeccarini/sensor-bridge/pkg/logging"
)

func main() {
	var defaultSensors []string
	for _, s := range model.DefaultRegistry().Sensors() {
		defaultSensors = append(defaultSensors, s.String())
	}

	brokerURL := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID := flag.String("client-id", "sensor-sim-"+uuid.NewString()[:8], "MQTT client ID")
	user := flag.String("user", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	prefix := flag.String("topic-prefix", "sensors", "topic prefix, readings go to <prefix>/<sensor>")
	sensors := flag.StringSlice("sensor", defaultSensors, "sensor name to simulate (repeatable)")
	encoding := flag.String("encoding", "json", "payload encoding: json|bare|number|cbor|gzip|zstd|mixed")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	count := flag.Int("count", 0, "number of rounds to publish, 0 = until interrupted")
	serial := flag.String("serial", "", "serial_no sent with each reading (empty = none)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New("sensor-sim", *logLevel, "console")

	enc, err := sensorSimulator.ParseEncoding(*encoding)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &broker.Config{
		URL:            *brokerURL,
		ClientID:       *clientID,
		User:           *user,
		Password:       *password,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxReconnect:   10 * time.Second,
	}
	client, err := broker.Connect(ctx, broker.NewClientOptions(cfg, broker.Handlers{}), log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection")
	}
	defer broker.Close(client, log)

	gens := make([]*sensorSimulator.DataGenerator, 0, len(*sensors))
	for i, name := range *sensors {
		gens = append(gens, sensorSimulator.NewDataGenerator(name, *serial, *seed+int64(i)))
	}

	sim := sensorSimulator.NewSensorSimulator(broker.NewPublisher(client, 1), *prefix, enc, gens, log)
	log.Info().Strs("sensors", *sensors).Str("encoding", string(enc)).Dur("interval", *interval).Msg("simulator started")
	sim.Start(ctx, *interval, *count)
}
