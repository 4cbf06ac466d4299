package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
)

// ID is a packet identity. Identities are assigned by a Schema in
// definition order, starting at zero.
type ID int

// String returns the decimal identity.
func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// None is the payload type of packets that carry no payload.
type None struct{}

// Packet is a packet identity tagged with its payload type T.
type Packet[T any] struct {
	id   ID
	name string
	bare bool
}

// ID returns the packet identity.
func (p Packet[T]) ID() ID { return p.id }

// Name returns the name the packet was defined with.
func (p Packet[T]) Name() string { return p.name }

// Bare reports whether the packet carries no payload.
func (p Packet[T]) Bare() bool { return p.bare }

// String returns "name(id)".
func (p Packet[T]) String() string {
	return fmt.Sprintf("%s(%d)", p.name, p.id)
}

// Descriptor describes one entry of a Schema.
type Descriptor struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Bare bool   `json:"bare"`
}

// Schema is an ordered, append-only table of packet definitions.
//
// A Schema is built once at startup, frozen, and shared by every connection
// that speaks it. Definitions must happen before traffic starts.
type Schema struct {
	name    string
	version string

	mu     sync.RWMutex
	table  []Descriptor
	frozen bool
}

// NewSchema creates an empty schema.
func NewSchema(name, version string) *Schema {
	return &Schema{name: name, version: version}
}

// Define appends the next packet identity to s and returns it tagged with
// the payload type T. A packet defined with None seals to a bare identity.
//
// Define panics if the schema has been frozen.
func Define[T any](s *Schema, name string) Packet[T] {
	_, bare := any(*new(T)).(None)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		panic(fmt.Sprintf("protocol: define %q on frozen schema %s", name, s.name))
	}

	id := ID(len(s.table))
	if name == "" {
		name = "packet" + id.String()
	}
	s.table = append(s.table, Descriptor{ID: id, Name: name, Bare: bare})

	return Packet[T]{id: id, name: name, bare: bare}
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Version returns the schema version.
func (s *Schema) Version() string { return s.version }

// Freeze ends the definition phase. Further calls to Define panic.
func (s *Schema) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (s *Schema) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Len returns the number of defined packets.
func (s *Schema) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Lookup returns the descriptor for id.
func (s *Schema) Lookup(id ID) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 0 || int(id) >= len(s.table) {
		return Descriptor{}, false
	}
	return s.table[id], true
}

// Known reports whether id is defined in s.
func (s *Schema) Known(id ID) bool {
	_, ok := s.Lookup(id)
	return ok
}

// Descriptors returns a copy of the table in identity order.
func (s *Schema) Descriptors() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, len(s.table))
	copy(out, s.table)
	return out
}

// Fingerprint returns a short hash of the schema name, version and the
// ordered packet table. Two schemas built by the same definition sequence
// have equal fingerprints.
func (s *Schema) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", s.name, s.version)
	for _, d := range s.table {
		fmt.Fprintf(h, "%d:%s:%t\x00", d.ID, d.Name, d.Bare)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
