package ingestion

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// ErrStorage wraps store failures returned by Process.
var ErrStorage = errors.New("store append failed")

// maxLoggedPayload bounds how much of a rejected payload ends up in the log.
const maxLoggedPayload = 512

// Pipeline runs one message through resolve, decode, normalize and write.
type Pipeline struct {
	resolver   *Resolver
	decoder    *Decoder
	normalizer *Normalizer
	writer     *Writer
	metrics    *Metrics
	log        zerolog.Logger
}

func NewPipeline(resolver *Resolver, decoder *Decoder, normalizer *Normalizer, writer *Writer, metrics *Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		decoder:    decoder,
		normalizer: normalizer,
		writer:     writer,
		metrics:    metrics,
		log:        log,
	}
}

// Result describes a stored reading.
type Result struct {
	Destination model.Destination
	Strategy    string
	Reading     model.Reading
	ID          int64
}

// Process handles msg and reports the first failure. Errors wrap
// ErrUnresolved, ErrUndecodable, ErrInvalidReading or ErrStorage.
func (p *Pipeline) Process(ctx context.Context, msg model.RawMessage) (Result, error) {
	var res Result

	_, dest, name, ok := p.resolver.Resolve(msg.Path)
	if !ok {
		return res, fmt.Errorf("%w %q", ErrUnresolved, name)
	}
	res.Destination = dest

	dec, err := p.decoder.Decode(msg.Payload)
	if err != nil {
		return res, err
	}
	res.Strategy = dec.Strategy
	p.metrics.Decoded(dec.Strategy)

	r, err := p.normalizer.Normalize(dec.Fields)
	if err != nil {
		return res, err
	}
	res.Reading = r

	id, err := p.writer.Write(ctx, dest, r)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	res.ID = id
	return res, nil
}

// Handle is Process plus logging and accounting. Nothing escapes it: every
// failure, panics included, drops only this message.
func (p *Pipeline) Handle(ctx context.Context, msg model.RawMessage) {
	p.metrics.Received()
	defer func() {
		if rec := recover(); rec != nil {
			p.metrics.Dropped(ReasonPanic)
			p.log.Error().
				Str("topic", msg.Topic).
				Str("payload", payloadText(msg.Payload)).
				Interface("panic", rec).
				Msg("message handling panicked, dropped")
		}
	}()

	res, err := p.Process(ctx, msg)
	switch {
	case err == nil:
		p.log.Debug().
			Str("topic", msg.Topic).
			Str("destination", res.Destination.String()).
			Str("strategy", res.Strategy).
			Int64("id", res.ID).
			Float64("value", res.Reading.Value).
			Msg("reading stored")
	case errors.Is(err, ErrUnresolved):
		p.metrics.Dropped(ReasonUnresolved)
		p.log.Warn().Str("topic", msg.Topic).Err(err).Msg("unknown sensor, ignoring")
	case errors.Is(err, ErrUndecodable):
		p.metrics.Dropped(ReasonUndecodable)
		p.log.Error().
			Str("topic", msg.Topic).
			Str("payload", payloadText(msg.Payload)).
			Err(err).
			Msg("invalid payload (not JSON, number or CBOR)")
	case errors.Is(err, ErrInvalidReading):
		p.metrics.Dropped(ReasonInvalid)
		p.log.Error().
			Str("topic", msg.Topic).
			Str("payload", payloadText(msg.Payload)).
			Err(err).
			Msg("payload missing numeric sensor value")
	default:
		p.metrics.Dropped(ReasonStorage)
		p.log.Error().
			Str("topic", msg.Topic).
			Str("destination", res.Destination.String()).
			Float64("value", res.Reading.Value).
			Err(err).
			Msg("store insert failed")
	}
}

func payloadText(p []byte) string {
	if len(p) > maxLoggedPayload {
		cut := maxLoggedPayload
		// back up to a rune start so a valid UTF-8 payload stays valid
		for i := 0; i < utf8.UTFMax && cut > 0 && !utf8.RuneStart(p[cut]); i++ {
			cut--
		}
		p = p[:cut]
	}
	if utf8.Valid(p) {
		return string(p)
	}
	return fmt.Sprintf("%x", p)
}
