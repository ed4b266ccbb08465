package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// ErrUndecodable is returned when no strategy accepts a payload.
var ErrUndecodable = errors.New("payload not decodable")

// maxInflated caps decompressed payloads.
const maxInflated = 1 << 20

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

var (
	zstdDecoder *zstd.Decoder
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxInflated),
	)
	if err != nil {
		panic("ingestion: zstd decoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("ingestion: CBOR decoder initialization failed: " + err.Error())
	}
}

// Strategy is one step of the decode chain. Decode reports false when the
// payload is not in its format; it must not panic on any input.
type Strategy interface {
	Name() string
	Decode(payload []byte) (model.Fields, bool)
}

// Decoded is a successful decode and the strategy that produced it.
type Decoded struct {
	Fields   model.Fields
	Strategy string
}

// Decoder tries its strategies in order and keeps the first success.
type Decoder struct {
	strategies []Strategy
}

// NewDecoder returns the standard chain: strict JSON, JSON with comments,
// JSON with bare keys, bare number, CBOR map. now stamps bare numbers.
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return NewDecoderWith(
		strictJSON{},
		commentedJSON{},
		bareKeyJSON{},
		bareNumber{now: now},
		cborMap{},
	)
}

// NewDecoderWith builds a decoder from an explicit chain.
func NewDecoderWith(strategies ...Strategy) *Decoder {
	return &Decoder{strategies: strategies}
}

// Decode runs the chain on payload, after undoing gzip or zstd compression.
func (d *Decoder) Decode(payload []byte) (Decoded, error) {
	body, err := inflate(payload)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	for _, s := range d.strategies {
		if fields, ok := s.Decode(body); ok {
			return Decoded{Fields: fields, Strategy: s.Name()}, nil
		}
	}
	return Decoded{}, ErrUndecodable
}

func inflate(p []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(p, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if len(out) > maxInflated {
			return nil, errors.New("gzip: payload exceeds 1MiB")
		}
		return out, nil
	case bytes.HasPrefix(p, zstdMagic):
		out, err := zstdDecoder.DecodeAll(p, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	}
	return p, nil
}

// parseObject is the strict parse shared by the JSON strategies: exactly one
// JSON object, numbers kept as json.Number.
func parseObject(b []byte) (model.Fields, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil || v == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return model.Fields(v), true
}

func looksLikeObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}

type strictJSON struct{}

func (strictJSON) Name() string { return "json" }

func (strictJSON) Decode(p []byte) (model.Fields, bool) {
	return parseObject(bytes.TrimSpace(p))
}

// commentedJSON accepts // and /* */ comments and trailing commas.
type commentedJSON struct{}

func (commentedJSON) Name() string { return "jsonc" }

func (commentedJSON) Decode(p []byte) (model.Fields, bool) {
	p = bytes.TrimSpace(p)
	if !looksLikeObject(p) {
		return nil, false
	}
	stripped := jsonc.ToJSON(p)
	if bytes.Equal(stripped, p) {
		return nil, false
	}
	return parseObject(stripped)
}

// bareKeyJSON repairs hand written objects such as
// {sensor_reading:230.5,serial_no:VOL-1}: unquoted keys and unquoted string
// values get quoted, single quoted strings become double quoted.
type bareKeyJSON struct{}

func (bareKeyJSON) Name() string { return "bare-keys" }

func (bareKeyJSON) Decode(p []byte) (model.Fields, bool) {
	p = bytes.TrimSpace(p)
	if !looksLikeObject(p) {
		return nil, false
	}
	return parseObject([]byte(quoteBareTokens(string(jsonc.ToJSON(p)))))
}

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func isJSONLiteral(tok string) bool {
	switch tok {
	case "true", "false", "null":
		return true
	}
	return jsonNumber.MatchString(tok)
}

func isStructural(c byte) bool {
	switch c {
	case '{', '}', '[', ']', ',', ':', '"', '\'':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// quoteBareTokens rewrites every unquoted token outside string literals. A
// token followed by ':' is a key and is always quoted; other tokens are quoted
// unless they already are JSON literals (numbers, true, false, null).
func quoteBareTokens(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			j := skipQuoted(s, i, '"')
			b.WriteString(s[i:j])
			i = j
		case c == '\'':
			j := skipQuoted(s, i, '\'')
			end := j
			if end > i+1 && s[end-1] == '\'' {
				end--
			}
			writeJSONString(&b, strings.ReplaceAll(s[i+1:end], `\'`, `'`))
			i = j
		case isSpace(c) || isStructural(c):
			b.WriteByte(c)
			i++
		default:
			j := i
			for j < len(s) && !isStructural(s[j]) {
				j++
			}
			tok := strings.TrimRight(s[i:j], " \t\r\n")
			isKey := j < len(s) && s[j] == ':'
			if isKey || !isJSONLiteral(tok) {
				writeJSONString(&b, tok)
			} else {
				b.WriteString(tok)
			}
			b.WriteString(s[i+len(tok) : j])
			i = j
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the literal opened at s[i].
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(s)
}

func writeJSONString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}

// bareNumber accepts a payload that is nothing but a number, e.g. "23.7".
type bareNumber struct {
	now func() time.Time
}

func (bareNumber) Name() string { return "number" }

func (n bareNumber) Decode(p []byte) (model.Fields, bool) {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return nil, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return model.Fields{
		"sensor_reading": v,
		"timestamp":      n.now(),
	}, true
}

// cborMap accepts a binary CBOR map with text keys.
type cborMap struct{}

func (cborMap) Name() string { return "cbor" }

func (cborMap) Decode(p []byte) (model.Fields, bool) {
	// major type 5 is a map; anything else cannot yield fields
	if len(p) == 0 || p[0]>>5 != 5 {
		return nil, false
	}
	var v map[string]any
	if err := cborDecMode.Unmarshal(p, &v); err != nil || v == nil {
		return nil, false
	}
	return model.Fields(v), true
}
