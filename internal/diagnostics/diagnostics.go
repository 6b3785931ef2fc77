// Package diagnostics maintains the cross-protocol diagnostic trouble
// code (DTC) table and correlates faults reported by different protocol
// decoders that share a source address and code.
package diagnostics

import (
	"sync"
	"time"
)

// Severity classifies how serious a DTC is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Protocol identifies which decoder raised a DTC.
type Protocol string

const (
	ProtocolRVC       Protocol = "rvc"
	ProtocolJ1939     Protocol = "j1939"
	ProtocolFirefly   Protocol = "firefly"
	ProtocolSpartanK2 Protocol = "spartan_k2"
)

// Key identifies one DTC record within a single protocol's table.
type Key struct {
	Protocol      Protocol
	SourceAddress uint8
	Code          uint32
}

// DTC is one diagnostic trouble code record.
type DTC struct {
	Key
	Severity   Severity
	Active     bool
	FirstSeen  time.Time
	LastSeen   time.Time
	Occurrence uint64
}

// EventSink receives SystemEvents raised on fault transitions. Implemented
// by the Broadcaster; kept narrow to avoid an import cycle.
type EventSink interface {
	PublishSystemEvent(kind string, detail map[string]any)
}

type nopSink struct{}

func (nopSink) PublishSystemEvent(string, map[string]any) {}

// Table is the DTC store: a map keyed by (protocol, source address,
// code), with cross-protocol correlation by (source address, code).
type Table struct {
	mu      sync.RWMutex
	records map[Key]*DTC
	sink    EventSink
	nowFunc func() time.Time
}

// New constructs an empty DTC table.
func New(sink EventSink) *Table {
	if sink == nil {
		sink = nopSink{}
	}
	return &Table{records: make(map[Key]*DTC), sink: sink, nowFunc: time.Now}
}

// Raise records a fault observation. If the (protocol, source, code) DTC
// is not currently active, it transitions to active and a fault_raised
// SystemEvent is emitted; otherwise the occurrence count and last-seen
// time are updated.
func (t *Table) Raise(key Key, severity Severity, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.records[key]
	if !ok {
		d = &DTC{Key: key, Severity: severity, FirstSeen: at}
		t.records[key] = d
	}
	d.LastSeen = at
	d.Occurrence++

	if !d.Active {
		d.Active = true
		t.sink.PublishSystemEvent("fault_raised", map[string]any{
			"protocol":       string(key.Protocol),
			"source_address": key.SourceAddress,
			"code":           key.Code,
			"severity":       string(severity),
		})
	}
}

// Clear transitions a DTC to inactive, emitting fault_cleared.
func (t *Table) Clear(key Key, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.records[key]
	if !ok || !d.Active {
		return
	}
	d.Active = false
	d.LastSeen = at
	t.sink.PublishSystemEvent("fault_cleared", map[string]any{
		"protocol":       string(key.Protocol),
		"source_address": key.SourceAddress,
		"code":           key.Code,
	})
}

// Active returns every currently active DTC.
func (t *Table) Active() []DTC {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []DTC
	for _, d := range t.records {
		if d.Active {
			out = append(out, *d)
		}
	}
	return out
}

// BySourceAddress returns every DTC (active or not) raised by a given
// source address across all protocols.
func (t *Table) BySourceAddress(addr uint8) []DTC {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []DTC
	for _, d := range t.records {
		if d.SourceAddress == addr {
			out = append(out, *d)
		}
	}
	return out
}

// ByProtocol returns every DTC raised by a given protocol decoder.
func (t *Table) ByProtocol(p Protocol) []DTC {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []DTC
	for _, d := range t.records {
		if d.Protocol == p {
			out = append(out, *d)
		}
	}
	return out
}

// CorrelationGroup is a set of DTCs from different protocols considered
// the same underlying fault.
type CorrelationGroup struct {
	SourceAddress uint8
	Code          uint32
	Members       []DTC
}

// CorrelationGroups groups active DTCs that share (source_address, code)
// across two or more protocols and whose active windows overlap (they are
// both currently active — active-but-disjoint-in-time faults sharing a
// code are not correlated).
func (t *Table) CorrelationGroups() []CorrelationGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type groupKey struct {
		addr uint8
		code uint32
	}
	groups := make(map[groupKey][]DTC)
	for _, d := range t.records {
		if !d.Active {
			continue
		}
		gk := groupKey{addr: d.SourceAddress, code: d.Code}
		groups[gk] = append(groups[gk], *d)
	}

	var out []CorrelationGroup
	for gk, members := range groups {
		if len(members) < 2 {
			continue
		}
		protocols := make(map[Protocol]bool, len(members))
		for _, m := range members {
			protocols[m.Protocol] = true
		}
		if len(protocols) < 2 {
			continue
		}
		out = append(out, CorrelationGroup{SourceAddress: gk.addr, Code: gk.code, Members: members})
	}
	return out
}
