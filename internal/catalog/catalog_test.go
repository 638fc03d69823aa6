package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratumai/internal/core"
)

func testDescriptors() []BackendDescriptor {
	return []BackendDescriptor{
		{ProviderID: "z", ModelID: "m2", QualityScore: 0.5, CostPerMillionInput: 1, CostPerMillionOutput: 3, AvgLatencyMs: 100, ContextWindowTokens: 8000, Capabilities: []string{"chat", "vision", "chat"}},
		{ProviderID: "a", ModelID: "m1", QualityScore: 0.9, CostPerMillionInput: 10, CostPerMillionOutput: 30, AvgLatencyMs: 900, ContextWindowTokens: 128000, Capabilities: []string{" chat "}},
		{ProviderID: "a", ModelID: "m0", QualityScore: 0.7, AvgLatencyMs: 300, ContextWindowTokens: 32000},
	}
}

func TestNew_SortsByProviderThenModel(t *testing.T) {
	c, err := New("test", testDescriptors())
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	var keys []string
	c.Each(func(d BackendDescriptor) bool {
		keys = append(keys, d.Key().String())
		return true
	})
	assert.Equal(t, []string{"a/m0", "a/m1", "z/m2"}, keys)
	assert.Equal(t, []string{"a", "z"}, c.Providers())
}

func TestNew_NormalizesCapabilities(t *testing.T) {
	c, err := New("test", testDescriptors())
	require.NoError(t, err)

	d, ok := c.Get("z", "m2")
	require.True(t, ok)
	assert.Equal(t, []string{"chat", "vision"}, d.Capabilities)

	d, ok = c.Get("a", "m1")
	require.True(t, ok)
	assert.True(t, d.HasCapability("chat"))
	assert.False(t, d.HasAllCapabilities([]string{"chat", "vision"}))
}

func TestNew_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		d    BackendDescriptor
	}{
		{"missing provider", BackendDescriptor{ModelID: "m"}},
		{"missing model", BackendDescriptor{ProviderID: "p"}},
		{"quality above one", BackendDescriptor{ProviderID: "p", ModelID: "m", QualityScore: 1.1}},
		{"negative quality", BackendDescriptor{ProviderID: "p", ModelID: "m", QualityScore: -0.1}},
		{"negative cost", BackendDescriptor{ProviderID: "p", ModelID: "m", CostPerMillionInput: -1}},
		{"negative latency", BackendDescriptor{ProviderID: "p", ModelID: "m", AvgLatencyMs: -1}},
		{"negative context", BackendDescriptor{ProviderID: "p", ModelID: "m", ContextWindowTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("test", []BackendDescriptor{tt.d})
			assert.Error(t, err)
		})
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	d := BackendDescriptor{ProviderID: "p", ModelID: "m", QualityScore: 0.5}
	_, err := New("test", []BackendDescriptor{d, d})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend p/m")
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	c, err := New("test", testDescriptors())
	require.NoError(t, err)

	all := c.All()
	all[0].Capabilities = append(all[0].Capabilities, "mutated")
	all[2].Capabilities[0] = "mutated"

	d, _ := c.Get("z", "m2")
	assert.Equal(t, []string{"chat", "vision"}, d.Capabilities)
	d0, _ := c.Get("a", "m0")
	assert.Empty(t, d0.Capabilities)
}

func TestCatalog_Fingerprint(t *testing.T) {
	a, err := New("a", testDescriptors())
	require.NoError(t, err)

	reordered := testDescriptors()
	reordered[0], reordered[2] = reordered[2], reordered[0]
	b, err := New("b", reordered)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "fingerprint must not depend on input order or source")

	changed := testDescriptors()
	changed[1].AvgLatencyMs++
	c, err := New("c", changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)
}

func TestCatalog_EstimateCost(t *testing.T) {
	c, err := New("test", testDescriptors())
	require.NoError(t, err)

	cost, ok := c.EstimateCost("a", "m1", core.Usage{PromptTokens: 1000, CompletionTokens: 500})
	require.True(t, ok)
	assert.InDelta(t, 1000*10.0/1e6+500*30.0/1e6, cost, 1e-12)

	_, ok = c.EstimateCost("a", "missing", core.Usage{})
	assert.False(t, ok)
}

func TestDescriptor_MeanCost(t *testing.T) {
	d := BackendDescriptor{CostPerMillionInput: 2, CostPerMillionOutput: 8}
	assert.InDelta(t, 5.0, d.MeanCostPerMillion(), 1e-12)
	assert.InDelta(t, 0.005, d.MeanCostPerThousand(), 1e-12)
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.All())
	assert.Equal(t, "", c.Fingerprint())
	_, ok := c.Get("a", "b")
	assert.False(t, ok)
}

func TestStore_Replace(t *testing.T) {
	first, err := New("first", testDescriptors())
	require.NoError(t, err)
	store := NewStore(nil)
	assert.Nil(t, store.Snapshot())

	assert.True(t, store.Replace(first))
	assert.Same(t, first, store.Snapshot())

	same, err := New("second", testDescriptors())
	require.NoError(t, err)
	assert.False(t, store.Replace(same), "identical contents are not a change")
	assert.Same(t, same, store.Snapshot())

	assert.False(t, store.Replace(nil))
	assert.Same(t, same, store.Snapshot())
}

func TestStore_ConcurrentReadsDuringReplace(t *testing.T) {
	a, err := New("a", testDescriptors())
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	store := NewStore(a)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				snap := store.Snapshot()
				n := 0
				snap.Each(func(BackendDescriptor) bool { n++; return true })
				if n != snap.Len() {
					t.Errorf("snapshot changed during iteration: %d != %d", n, snap.Len())
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			store.Replace(b)
		} else {
			store.Replace(a)
		}
	}
	wg.Wait()
}

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 5)
	assert.Equal(t, "builtin", c.Source())

	reasoning := 0
	c.Each(func(d BackendDescriptor) bool {
		if d.Reasoning {
			reasoning++
		}
		return true
	})
	assert.Positive(t, reasoning)
}
