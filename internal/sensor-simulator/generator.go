package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// profile bounds the random walk of one kind of sensor.
type profile struct {
	base, step, min, max float64
	decimals             int
}

var profiles = map[string]profile{
	"temperature":    {base: 21, step: 0.3, min: -20, max: 50, decimals: 2},
	"humidity":       {base: 45, step: 1, min: 0, max: 100, decimals: 1},
	"hydrogen":       {base: 2, step: 0.15, min: 0, max: 100, decimals: 3},
	"oxymeter":       {base: 97, step: 0.4, min: 80, max: 100, decimals: 1},
	"oxygen":         {base: 97, step: 0.4, min: 80, max: 100, decimals: 1},
	"voltage_sensor": {base: 230, step: 1.5, min: 200, max: 250, decimals: 1},
	"voltage":        {base: 230, step: 1.5, min: 200, max: 250, decimals: 1},
}

var fallbackProfile = profile{base: 50, step: 1, min: 0, max: 100, decimals: 2}

// Sample is one simulated reading.
type Sample struct {
	Sensor    string
	Value     float64
	Timestamp time.Time
	Serial    string
}

// DataGenerator produces a bounded random walk around a per-sensor baseline.
type DataGenerator struct {
	mu      sync.Mutex
	sensor  string
	serial  string
	profile profile
	value   float64
	rnd     *rand.Rand
	now     func() time.Time
}

// NewDataGenerator creates a generator for sensor. Unknown sensors walk in
// [0, 100].
func NewDataGenerator(sensor, serial string, seed int64) *DataGenerator {
	p, ok := profiles[sensor]
	if !ok {
		p = fallbackProfile
	}
	return &DataGenerator{
		sensor:  sensor,
		serial:  serial,
		profile: p,
		value:   p.base,
		rnd:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
	}
}

func (g *DataGenerator) Sensor() string { return g.sensor }

// Next advances the walk by at most one step and returns the new sample.
func (g *DataGenerator) Next() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.profile
	// drift back toward the baseline so the walk does not stick to a bound
	pull := (p.base - g.value) * 0.05
	g.value = clamp(g.value+pull+(g.rnd.Float64()*2-1)*p.step, p.min, p.max)

	return Sample{
		Sensor:    g.sensor,
		Value:     round(g.value, p.decimals),
		Timestamp: g.now().UTC(),
		Serial:    g.serial,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round(v float64, decimals int) float64 {
	f := math.Pow(10, float64(decimals))
	return math.Round(v*f) / f
}
