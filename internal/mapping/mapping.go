// Package mapping loads the coach-specific binding table from (PGN,
// instance) pairs to logical entity ids, and records traffic that doesn't
// resolve to a binding for the diagnostic endpoints.
package mapping

import (
	"fmt"
	"os"
	"strings"

	"github.com/coachlink/rvcd/internal/catalog"
	"gopkg.in/yaml.v3"
)

// DeviceType is a closed set of logical device kinds.
type DeviceType string

const (
	DeviceLight       DeviceType = "light"
	DeviceLock        DeviceType = "lock"
	DeviceTank        DeviceType = "tank"
	DeviceTemperature DeviceType = "temperature"
	DeviceSwitch      DeviceType = "switch"
	DeviceOther       DeviceType = "other"
)

var validDeviceTypes = map[DeviceType]bool{
	DeviceLight: true, DeviceLock: true, DeviceTank: true,
	DeviceTemperature: true, DeviceSwitch: true, DeviceOther: true,
}

// capabilitiesByType enumerates the capability set available to each
// device type; a binding's declared capabilities must be a subset.
var capabilitiesByType = map[DeviceType]map[string]bool{
	DeviceLight:       {"on_off": true, "brightness": true},
	DeviceLock:        {"lock_unlock": true},
	DeviceTank:        {"level": true},
	DeviceTemperature: {"level": true},
	DeviceSwitch:      {"on_off": true},
	DeviceOther:       {"on_off": true, "brightness": true, "lock_unlock": true, "level": true},
}

// DeviceBinding is the resolved target of a (PGN, instance) pair.
type DeviceBinding struct {
	EntityID     string     `yaml:"entity_id"`
	FriendlyName string     `yaml:"friendly_name"`
	DeviceType   DeviceType `yaml:"device_type"`
	Area         string     `yaml:"area"`
	Capabilities []string   `yaml:"capabilities"`
	Protocol     string     `yaml:"protocol"`
	PGN          uint32     `yaml:"pgn"`
	Instance     uint32     `yaml:"instance"`
	// Interface is the logical CAN interface name ("house", "chassis")
	// commands targeting this entity are routed to. Defaults to "house"
	// when unset in the document.
	Interface string `yaml:"interface"`
}

// HasCapability reports whether the binding declares cap.
func (b *DeviceBinding) HasCapability(cap string) bool {
	for _, c := range b.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

type bindingKey struct {
	pgn      uint32
	instance uint32
}

type document struct {
	Bindings []DeviceBinding `yaml:"bindings"`
}

// Mapping is the immutable, indexed device binding table.
type Mapping struct {
	byKey      map[bindingKey]*DeviceBinding
	byEntityID map[string]*DeviceBinding
	byType     map[DeviceType][]*DeviceBinding
}

// LoadError collects every validation failure found while loading a
// mapping document.
type LoadError struct {
	Problems []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("mapping: %d problem(s):\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Load reads and validates a device mapping document from path, checking
// referenced PGNs against cat.
func Load(path string, cat *catalog.Catalog) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: reading %s: %w", path, err)
	}
	return Parse(data, cat)
}

// Parse validates and indexes a mapping document already in memory.
func Parse(data []byte, cat *catalog.Catalog) (*Mapping, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mapping: invalid YAML: %w", err)
	}

	var problems []string
	byKey := make(map[bindingKey]*DeviceBinding, len(doc.Bindings))
	byEntityID := make(map[string]*DeviceBinding, len(doc.Bindings))
	byType := make(map[DeviceType][]*DeviceBinding)

	for i := range doc.Bindings {
		b := &doc.Bindings[i]
		if b.Interface == "" {
			b.Interface = "house"
		}

		if _, dup := byEntityID[b.EntityID]; dup {
			problems = append(problems, fmt.Sprintf("entity %q: duplicate entity id", b.EntityID))
			continue
		}

		if cat != nil {
			if _, ok := cat.Lookup(b.PGN); !ok {
				problems = append(problems, fmt.Sprintf("entity %q: references unknown pgn 0x%05X", b.EntityID, b.PGN))
			}
		}

		if !validDeviceTypes[b.DeviceType] {
			problems = append(problems, fmt.Sprintf("entity %q: invalid device type %q", b.EntityID, b.DeviceType))
		} else {
			allowed := capabilitiesByType[b.DeviceType]
			for _, c := range b.Capabilities {
				if !allowed[c] {
					problems = append(problems, fmt.Sprintf("entity %q: capability %q not valid for device type %q", b.EntityID, c, b.DeviceType))
				}
			}
		}

		key := bindingKey{pgn: b.PGN, instance: b.Instance}
		if existing, dup := byKey[key]; dup {
			problems = append(problems, fmt.Sprintf("(pgn 0x%05X, instance %d): already bound to entity %q, cannot also bind %q", b.PGN, b.Instance, existing.EntityID, b.EntityID))
			continue
		}

		byKey[key] = b
		byEntityID[b.EntityID] = b
		byType[b.DeviceType] = append(byType[b.DeviceType], b)
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}

	return &Mapping{byKey: byKey, byEntityID: byEntityID, byType: byType}, nil
}

// Resolve returns the binding for (pgn, instance), or ok=false if unbound.
func (m *Mapping) Resolve(pgn, instance uint32) (*DeviceBinding, bool) {
	b, ok := m.byKey[bindingKey{pgn: pgn, instance: instance}]
	return b, ok
}

// ByEntityID returns the binding for a given entity id.
func (m *Mapping) ByEntityID(id string) (*DeviceBinding, bool) {
	b, ok := m.byEntityID[id]
	return b, ok
}

// EntitiesByType returns every binding of the given device type.
func (m *Mapping) EntitiesByType(t DeviceType) []*DeviceBinding {
	out := make([]*DeviceBinding, len(m.byType[t]))
	copy(out, m.byType[t])
	return out
}

// All returns every binding in the mapping.
func (m *Mapping) All() []*DeviceBinding {
	out := make([]*DeviceBinding, 0, len(m.byEntityID))
	for _, b := range m.byEntityID {
		out = append(out, b)
	}
	return out
}
