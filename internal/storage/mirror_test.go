package storage

import (
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

func TestReadingToPoint(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := ReadingToPoint(destination(t, "voltage_sensor"), 42, readingFixture(ts))

	if p.Name() != "sensor_reading" {
		t.Fatalf("unexpected measurement %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Fatalf("unexpected time %v", p.Time())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["destination"] != "voltage_sensor" || tags["serial_no"] != "VOL-1" {
		t.Fatalf("unexpected tags %v", tags)
	}
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["value"] != 231.4 || fields["row_id"] != int64(42) {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestReadingToPointWithoutSerial(t *testing.T) {
	r := readingFixture(time.Time{})
	r.DeviceID = ""
	p := ReadingToPoint(destination(t, "temperature"), 1, r)
	for _, tag := range p.TagList() {
		if tag.Key == "serial_no" {
			t.Fatalf("serial_no tag should be omitted when absent")
		}
	}
	if p.Time().IsZero() {
		t.Fatalf("zero timestamp should be replaced by now")
	}
}

func TestLatestKeyAndFields(t *testing.T) {
	if got := LatestKey(destination(t, "oxymeter")); got != "sensor:last:oxymeter" {
		t.Fatalf("unexpected key %q", got)
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := latestFields(9, readingFixture(ts))
	if f["id"] != "9" || f["sensor_reading"] != "231.4" || f["serial_no"] != "VOL-1" || f["timestamp"] != "2024-03-01T12:00:00Z" {
		t.Fatalf("unexpected fields %v", f)
	}
}

func readingFixture(ts time.Time) model.Reading {
	return model.Reading{Timestamp: ts, Value: 231.4, DeviceID: "VOL-1"}
}
