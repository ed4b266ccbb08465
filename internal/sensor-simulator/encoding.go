package sensor_simulator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding is a payload format understood by the bridge.
type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingBare   Encoding = "bare"
	EncodingNumber Encoding = "number"
	EncodingCBOR   Encoding = "cbor"
	EncodingGzip   Encoding = "gzip"
	EncodingZstd   Encoding = "zstd"
	// EncodingMixed rotates through all the others.
	EncodingMixed Encoding = "mixed"
)

// Encodings lists the concrete encodings in rotation order.
var Encodings = []Encoding{EncodingJSON, EncodingBare, EncodingNumber, EncodingCBOR, EncodingGzip, EncodingZstd}

func ParseEncoding(s string) (Encoding, error) {
	e := Encoding(strings.ToLower(strings.TrimSpace(s)))
	if e == EncodingMixed {
		return e, nil
	}
	for _, known := range Encodings {
		if e == known {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

var bareSafe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Encode renders s in enc. EncodingMixed is resolved by the caller.
func Encode(s Sample, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON:
		return json.Marshal(jsonPayload(s))
	case EncodingBare:
		return bareObject(s), nil
	case EncodingNumber:
		return []byte(strconv.FormatFloat(s.Value, 'f', -1, 64)), nil
	case EncodingCBOR:
		m := map[string]any{
			"timestamp":      s.Timestamp.UnixMilli(),
			"sensor_reading": s.Value,
		}
		if s.Serial != "" {
			m["serial_no"] = s.Serial
		}
		return cbor.Marshal(m)
	case EncodingGzip:
		raw, err := json.Marshal(jsonPayload(s))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingZstd:
		raw, err := json.Marshal(jsonPayload(s))
		if err != nil {
			return nil, err
		}
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer zw.Close()
		return zw.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("cannot encode as %q", enc)
}

func jsonPayload(s Sample) map[string]any {
	m := map[string]any{
		"timestamp":      s.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		"sensor_reading": s.Value,
	}
	if s.Serial != "" {
		m["serial_no"] = s.Serial
	}
	return m
}

// bareObject writes the hand-rolled format some field devices emit:
// {timestamp:1714564800000,sensor_reading:230.5,serial_no:VOL-1}
func bareObject(s Sample) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "{timestamp:%d,sensor_reading:%s", s.Timestamp.UnixMilli(), strconv.FormatFloat(s.Value, 'f', -1, 64))
	if s.Serial != "" {
		b.WriteString(",serial_no:")
		if bareSafe.MatchString(s.Serial) && !literalLike(s.Serial) {
			b.WriteString(s.Serial)
		} else {
			enc, _ := json.Marshal(s.Serial)
			b.Write(enc)
		}
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// literalLike reports serials that would read back as numbers or booleans
// when left unquoted.
func literalLike(s string) bool {
	switch s {
	case "true", "false", "null":
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
