package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"stratumai/internal/core"
)

// Catalog is an immutable snapshot of backend descriptors.
// Entries are ordered by (provider, model) ascending; that order is the
// tie-break order used by selection.
type Catalog struct {
	entries     []BackendDescriptor
	index       map[Key]int
	fingerprint uint64
	source      string
	loadedAt    time.Time
}

// New validates descriptors and freezes them into a Catalog.
// Duplicate (provider, model) keys are rejected.
func New(source string, descriptors []BackendDescriptor) (*Catalog, error) {
	entries := make([]BackendDescriptor, 0, len(descriptors))
	index := make(map[Key]int, len(descriptors))
	for _, d := range descriptors {
		d = d.normalized()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[d.Key()]; dup {
			return nil, fmt.Errorf("duplicate backend %s", d.Key())
		}
		index[d.Key()] = -1
		entries = append(entries, d)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProviderID != entries[j].ProviderID {
			return entries[i].ProviderID < entries[j].ProviderID
		}
		return entries[i].ModelID < entries[j].ModelID
	})
	for i, d := range entries {
		index[d.Key()] = i
	}

	return &Catalog{
		entries:     entries,
		index:       index,
		fingerprint: fingerprint(entries),
		source:      source,
		loadedAt:    time.Now().UTC(),
	}, nil
}

// Len returns the number of backends.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Source describes where the snapshot was loaded from.
func (c *Catalog) Source() string {
	return c.source
}

// LoadedAt returns when the snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	return c.loadedAt
}

// Fingerprint returns a stable hash of the snapshot contents, used to detect
// whether a reload changed anything.
func (c *Catalog) Fingerprint() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%016x", c.fingerprint)
}

// Each calls fn for every descriptor in catalog order until fn returns false.
// fn must not retain or modify the descriptor's Capabilities slice.
func (c *Catalog) Each(fn func(BackendDescriptor) bool) {
	if c == nil {
		return
	}
	for _, d := range c.entries {
		if !fn(d) {
			return
		}
	}
}

// All returns copies of every descriptor in catalog order.
func (c *Catalog) All() []BackendDescriptor {
	if c == nil {
		return nil
	}
	out := make([]BackendDescriptor, len(c.entries))
	for i, d := range c.entries {
		out[i] = d.clone()
	}
	return out
}

// Get returns a copy of the descriptor for (provider, model).
func (c *Catalog) Get(provider, model string) (BackendDescriptor, bool) {
	if c == nil {
		return BackendDescriptor{}, false
	}
	i, ok := c.index[Key{Provider: provider, Model: model}]
	if !ok {
		return BackendDescriptor{}, false
	}
	return c.entries[i].clone(), true
}

// Providers returns the distinct provider ids in catalog order.
func (c *Catalog) Providers() []string {
	var out []string
	c.Each(func(d BackendDescriptor) bool {
		if len(out) == 0 || out[len(out)-1] != d.ProviderID {
			out = append(out, d.ProviderID)
		}
		return true
	})
	return out
}

// EstimateCost prices usage against the backend's per-million rates.
// Returns false when the backend is unknown.
func (c *Catalog) EstimateCost(provider, model string, usage core.Usage) (float64, bool) {
	d, ok := c.Get(provider, model)
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)*d.CostPerMillionInput/1_000_000 +
		float64(usage.CompletionTokens)*d.CostPerMillionOutput/1_000_000
	return cost, true
}

func fingerprint(entries []BackendDescriptor) uint64 {
	h := xxhash.New()
	var buf [8]byte
	writeString := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		_, _ = h.Write(buf[:])
		_, _ = h.WriteString(s)
	}
	writeFloat := func(f float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = h.Write(buf[:])
	}
	for _, d := range entries {
		writeString(d.ProviderID)
		writeString(d.ModelID)
		writeFloat(d.QualityScore)
		writeFloat(d.CostPerMillionInput)
		writeFloat(d.CostPerMillionOutput)
		writeString(strconv.Itoa(d.AvgLatencyMs))
		writeString(strconv.Itoa(d.ContextWindowTokens))
		writeString(strconv.FormatBool(d.Reasoning))
		writeString(strconv.Itoa(len(d.Capabilities)))
		for _, capability := range d.Capabilities {
			writeString(capability)
		}
	}
	return h.Sum64()
}

// Store publishes catalog snapshots. Readers take the current snapshot
// without locking; writers replace it whole.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore creates a store publishing initial.
func NewStore(initial *Catalog) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Snapshot returns the currently published catalog.
func (s *Store) Snapshot() *Catalog {
	return s.current.Load()
}

// Replace publishes next and reports whether its contents differ from the
// previous snapshot.
func (s *Store) Replace(next *Catalog) bool {
	if next == nil {
		return false
	}
	prev := s.current.Swap(next)
	return prev == nil || prev.fingerprint != next.fingerprint
}
