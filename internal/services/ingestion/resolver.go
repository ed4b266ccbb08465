package ingestion

import (
	"errors"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// ErrUnresolved marks a topic whose sensor is not in the registry.
var ErrUnresolved = errors.New("unknown sensor")

// Resolver maps a topic path to a storage destination.
//
// The sensor is the last non-empty segment, so both sensors/<name> and
// sensors/<group>/<name> work. A topic ending in a qualifier (for example
// sensors/temperature/raw) is read as sensor "raw" and dropped.
type Resolver struct {
	registry *model.Registry
}

func NewResolver(registry *model.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the sensor named by path and its destination. name is the
// segment that was looked up, useful for logging unresolved topics.
func (r *Resolver) Resolve(path []string) (sensor model.Sensor, dest model.Destination, name string, ok bool) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] != "" {
			name = path[i]
			break
		}
	}
	if name == "" {
		return model.Sensor{}, model.Destination{}, "", false
	}
	s, found := r.registry.Resolve(name)
	if !found {
		return model.Sensor{}, model.Destination{}, name, false
	}
	return s, r.registry.Destination(s), name, true
}
