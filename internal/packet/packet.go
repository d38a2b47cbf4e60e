package packet

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Timestamp is the engine-internal packet time in microseconds.
type Timestamp int64

// Unset marks a packet (or callback) that carries no meaningful time.
const Unset Timestamp = math.MinInt64

// MicrosPerMilli converts between the public millisecond API and engine time.
const MicrosPerMilli = 1000

// Millisecond bounds that convert to engine time without overflow. MinMillis
// stays clear of Unset.
const (
	MaxMillis = math.MaxInt64 / MicrosPerMilli
	MinMillis = math.MinInt64/MicrosPerMilli + 1
)

// ErrTimestampRange is returned by ParseMillis for values outside
// [MinMillis, MaxMillis].
var ErrTimestampRange = errors.New("timestamp out of range")

// FromMillis converts a public millisecond timestamp into engine time. ms must
// lie within [MinMillis, MaxMillis]; use ParseMillis for untrusted input.
func FromMillis(ms int64) Timestamp {
	return Timestamp(ms * MicrosPerMilli)
}

// ParseMillis is FromMillis with a range check.
func ParseMillis(ms int64) (Timestamp, error) {
	if ms < MinMillis || ms > MaxMillis {
		return Unset, fmt.Errorf("%w: %d ms", ErrTimestampRange, ms)
	}
	return FromMillis(ms), nil
}

// Value returns the raw engine value.
func (t Timestamp) Value() int64 { return int64(t) }

// Millis converts engine time back into milliseconds. Unset stays Unset.
func (t Timestamp) Millis() int64 {
	if t == Unset {
		return int64(Unset)
	}
	return int64(t) / MicrosPerMilli
}

// IsSet reports whether t is a real timestamp.
func (t Timestamp) IsSet() bool { return t != Unset }

func (t Timestamp) String() string {
	if t == Unset {
		return "Timestamp::Unset"
	}
	return fmt.Sprintf("%dus", int64(t))
}

// Packet is an untyped value tagged with a timestamp.
type Packet struct {
	value any
	ts    Timestamp
}

// Make wraps v in an unstamped packet.
func Make(v any) Packet {
	return Packet{value: v, ts: Unset}
}

// Empty returns a packet without a value stamped at ts.
func Empty(ts Timestamp) Packet {
	return Packet{ts: ts}
}

// At returns a copy of p stamped with ts.
func (p Packet) At(ts Timestamp) Packet {
	p.ts = ts
	return p
}

// IsEmpty reports whether the packet carries no value.
func (p Packet) IsEmpty() bool { return p.value == nil }

// Timestamp returns the packet time.
func (p Packet) Timestamp() Timestamp { return p.ts }

// Value returns the raw payload.
func (p Packet) Value() any { return p.value }

// Get extracts the typed payload of p.
func Get[T any](p Packet) (T, error) {
	var zero T
	if p.IsEmpty() {
		return zero, fmt.Errorf("packet at %s is empty", p.ts)
	}
	v, ok := p.value.(T)
	if !ok {
		return zero, fmt.Errorf("packet at %s holds %T, want %T", p.ts, p.value, zero)
	}
	return v, nil
}

// Map is a name-keyed bundle of packets crossing the orchestrator/engine boundary.
// The zero value is ready to use.
type Map struct {
	packets map[string]Packet
}

// NewMap creates a map from name/packet pairs.
func NewMap(entries map[string]Packet) Map {
	m := Map{packets: make(map[string]Packet, len(entries))}
	for name, p := range entries {
		m.packets[name] = p
	}
	return m
}

// Get returns the packet stored under name.
func (m Map) Get(name string) (Packet, bool) {
	p, ok := m.packets[name]
	return p, ok
}

// Set stores p under name, replacing any previous packet.
func (m *Map) Set(name string, p Packet) {
	if m.packets == nil {
		m.packets = make(map[string]Packet)
	}
	m.packets[name] = p
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.packets) }

// Names returns the keys in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m.packets))
	for name := range m.packets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StampAll returns a copy of m with every packet restamped at ts.
func (m Map) StampAll(ts Timestamp) Map {
	out := Map{packets: make(map[string]Packet, len(m.packets))}
	for name, p := range m.packets {
		out.packets[name] = p.At(ts)
	}
	return out
}

// Timestamp returns the common timestamp of the packets in m. It fails when the
// map is empty or the packets disagree.
func (m Map) Timestamp() (Timestamp, error) {
	if len(m.packets) == 0 {
		return Unset, fmt.Errorf("packet map is empty")
	}
	ts := Unset
	for _, name := range m.Names() {
		p := m.packets[name]
		if ts == Unset {
			ts = p.ts
			continue
		}
		if p.ts != ts {
			return Unset, fmt.Errorf("packet %q at %s disagrees with %s", name, p.ts, ts)
		}
	}
	return ts, nil
}
