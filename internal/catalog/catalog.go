// Package catalog loads and indexes the declarative RV-C protocol
// description: the PGN table, signal layouts, and shared enumeration
// tables. A Catalog is immutable after Load and safe for concurrent reads
// from any number of goroutines without further coordination.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteOrder selects how a signal's raw bits are assembled from the payload.
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// Enumeration maps raw integer values to human-readable labels.
type Enumeration struct {
	Name   string            `yaml:"name"`
	Values map[uint64]string `yaml:"values"`
}

// Signal describes one field within a PGN payload.
type Signal struct {
	Name        string    `yaml:"name"`
	StartBit    uint32    `yaml:"start_bit"`
	LengthBits  uint32    `yaml:"length_bits"`
	ByteOrder   ByteOrder `yaml:"byte_order"`
	Scale       float64   `yaml:"scale"`
	Offset      float64   `yaml:"offset"`
	Unit        string    `yaml:"unit"`
	Enum        string    `yaml:"enum,omitempty"`
	ValueMask   *uint64   `yaml:"value_mask,omitempty"`
	NotAvailable *uint64  `yaml:"not_available,omitempty"`
}

// EndBit returns the exclusive end bit of the signal.
func (s Signal) EndBit() uint32 { return s.StartBit + s.LengthBits }

// PGNDescriptor is one parameter group's full definition.
type PGNDescriptor struct {
	PGN     uint32   `yaml:"pgn"`
	Name    string   `yaml:"name"`
	Signals []Signal `yaml:"signals"`
}

// document is the on-disk shape of a catalog YAML file.
type document struct {
	Enumerations []Enumeration   `yaml:"enumerations"`
	PGNs         []PGNDescriptor `yaml:"pgns"`
}

// Catalog is the immutable, indexed protocol description.
type Catalog struct {
	byPGN map[uint32]*PGNDescriptor
	enums map[string]*Enumeration
	order []uint32
}

// LoadError collects every validation failure found while loading a
// catalog, so an operator sees all problems in one diagnostic instead of
// aborting on the first.
type LoadError struct {
	Problems []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("catalog: %d problem(s):\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Load reads and validates a catalog document from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and indexes a catalog document already in memory.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: invalid YAML: %w", err)
	}

	enums := make(map[string]*Enumeration, len(doc.Enumerations))
	for i := range doc.Enumerations {
		e := &doc.Enumerations[i]
		enums[e.Name] = e
	}

	var problems []string
	byPGN := make(map[uint32]*PGNDescriptor, len(doc.PGNs))
	order := make([]uint32, 0, len(doc.PGNs))
	for i := range doc.PGNs {
		p := &doc.PGNs[i]
		if _, dup := byPGN[p.PGN]; dup {
			problems = append(problems, fmt.Sprintf("pgn 0x%05X: duplicate definition", p.PGN))
			continue
		}

		seenNames := make(map[string]bool, len(p.Signals))
		for _, s := range p.Signals {
			if seenNames[s.Name] {
				problems = append(problems, fmt.Sprintf("pgn 0x%05X: duplicate signal name %q", p.PGN, s.Name))
			}
			seenNames[s.Name] = true

			if s.EndBit() > MaxPayloadBits {
				problems = append(problems, fmt.Sprintf("pgn 0x%05X: signal %q end bit %d exceeds max payload of %d bits", p.PGN, s.Name, s.EndBit(), MaxPayloadBits))
			}
			if s.Enum != "" {
				if _, ok := enums[s.Enum]; !ok {
					problems = append(problems, fmt.Sprintf("pgn 0x%05X: signal %q references unknown enumeration %q", p.PGN, s.Name, s.Enum))
				}
			}
			if s.ByteOrder != LittleEndian && s.ByteOrder != BigEndian {
				problems = append(problems, fmt.Sprintf("pgn 0x%05X: signal %q has invalid byte order %q", p.PGN, s.Name, s.ByteOrder))
			}
		}

		byPGN[p.PGN] = p
		order = append(order, p.PGN)
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}

	return &Catalog{byPGN: byPGN, enums: enums, order: order}, nil
}

// MaxPayloadBits is the widest bit range a classical CAN 2.0B payload
// (8 bytes) can express.
const MaxPayloadBits = 64

// Lookup returns the descriptor for pgn, or ok=false if the PGN is unknown
// to the catalog.
func (c *Catalog) Lookup(pgn uint32) (*PGNDescriptor, bool) {
	d, ok := c.byPGN[pgn]
	return d, ok
}

// Enumeration returns a named enumeration table, or ok=false if undefined.
func (c *Catalog) Enumeration(name string) (*Enumeration, bool) {
	e, ok := c.enums[name]
	return e, ok
}

// Enumerate returns every PGN descriptor in load order.
func (c *Catalog) Enumerate() []*PGNDescriptor {
	out := make([]*PGNDescriptor, 0, len(c.order))
	for _, pgn := range c.order {
		out = append(out, c.byPGN[pgn])
	}
	return out
}

// Len reports how many PGNs the catalog knows about.
func (c *Catalog) Len() int { return len(c.byPGN) }
