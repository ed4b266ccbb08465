package model

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

// destinationPattern restricts table names to plain lower-case identifiers so
// they can be quoted into a statement without escaping.
var destinationPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Sensor is a canonical sensor identifier. Values only come out of a Registry,
// the zero value means "no sensor".
type Sensor struct{ id string }

func (s Sensor) String() string { return s.id }
func (s Sensor) IsZero() bool   { return s.id == "" }

// Destination names the table a sensor's readings are appended to. It cannot be
// built from free-form input: the only constructors are Registry lookups.
type Destination struct{ name string }

func (d Destination) String() string { return d.name }
func (d Destination) IsZero() bool   { return d.name == "" }

type registryFile struct {
	Sensors []struct {
		ID          string   `yaml:"id"`
		Destination string   `yaml:"destination"`
		Aliases     []string `yaml:"aliases"`
	} `yaml:"sensors"`
}

// Registry maps topic names to sensors and sensors to destinations.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	sensors      []Sensor
	canonical    map[string]Sensor
	aliases      map[string]Sensor
	destinations map[Sensor]Destination
	byDest       map[string]Destination
}

// ParseRegistry builds a Registry from its YAML table and validates it.
func ParseRegistry(raw []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if len(f.Sensors) == 0 {
		return nil, errors.New("registry: no sensors defined")
	}

	r := &Registry{
		canonical:    make(map[string]Sensor, len(f.Sensors)),
		aliases:      make(map[string]Sensor),
		destinations: make(map[Sensor]Destination, len(f.Sensors)),
		byDest:       make(map[string]Destination, len(f.Sensors)),
	}
	for _, e := range f.Sensors {
		if e.ID == "" {
			return nil, errors.New("registry: sensor with empty id")
		}
		if _, dup := r.canonical[e.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate sensor %q", e.ID)
		}
		if !destinationPattern.MatchString(e.Destination) {
			return nil, fmt.Errorf("registry: sensor %q has invalid destination %q", e.ID, e.Destination)
		}
		if _, dup := r.byDest[e.Destination]; dup {
			return nil, fmt.Errorf("registry: destination %q used twice", e.Destination)
		}
		s := Sensor{id: e.ID}
		d := Destination{name: e.Destination}
		r.sensors = append(r.sensors, s)
		r.canonical[e.ID] = s
		r.destinations[s] = d
		r.byDest[e.Destination] = d
	}

	// aliases are resolved in a second pass so they can point at sensors
	// declared further down the table.
	for _, e := range f.Sensors {
		target := r.canonical[e.ID]
		for _, a := range e.Aliases {
			if a == "" {
				return nil, fmt.Errorf("registry: empty alias on %q", e.ID)
			}
			if owner, shadows := r.canonical[a]; shadows {
				return nil, fmt.Errorf("registry: alias %q on %q shadows sensor %q", a, e.ID, owner.id)
			}
			if prev, dup := r.aliases[a]; dup {
				return nil, fmt.Errorf("registry: alias %q maps to both %q and %q", a, prev.id, e.ID)
			}
			r.aliases[a] = target
		}
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// DefaultRegistry returns the registry compiled into the binary.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r, err := ParseRegistry(defaultRegistryYAML)
		if err != nil {
			panic("model: embedded sensor registry is invalid: " + err.Error())
		}
		defaultReg = r
	})
	return defaultReg
}

// Resolve maps a topic name to its canonical sensor. ParseRegistry keeps
// alias and canonical names disjoint, so the lookup order does not matter.
func (r *Registry) Resolve(name string) (Sensor, bool) {
	if s, ok := r.aliases[name]; ok {
		return s, true
	}
	s, ok := r.canonical[name]
	return s, ok
}

// Destination returns the table for s; the zero Destination if s is unknown.
func (r *Registry) Destination(s Sensor) Destination {
	return r.destinations[s]
}

// Sensors lists the canonical sensors in declaration order.
func (r *Registry) Sensors() []Sensor {
	out := make([]Sensor, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// ParseDestination validates an externally supplied table name against the
// registry. Query handlers must go through here before building SQL.
func (r *Registry) ParseDestination(name string) (Destination, bool) {
	d, ok := r.byDest[name]
	return d, ok
}
