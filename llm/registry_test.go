package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := &staticProvider{name: "openai"}
	r.Register("openai", p)

	got, ok := r.Get("openai")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Default(t *testing.T) {
	r := NewRegistry()

	_, err := r.Default()
	require.Error(t, err)

	require.Error(t, r.SetDefault("openai"))

	r.Register("openai", &staticProvider{name: "openai"})
	require.NoError(t, r.SetDefault("openai"))

	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestRegistry_Default_SingleProviderNeedsNoDesignation(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", &staticProvider{name: "gemini"})

	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	// A second registration makes the default ambiguous again.
	r.Register("openai", &staticProvider{name: "openai"})
	_, err = r.Default()
	assert.Error(t, err)
}

func TestRegistry_FirstWithCapability_DefaultWins(t *testing.T) {
	r := NewRegistry()
	r.Register("anthropic", &staticProvider{name: "anthropic", caps: CapGenerate | CapStream})
	r.Register("openai", &staticProvider{name: "openai", caps: CapGenerate | CapStream | CapVision})
	require.NoError(t, r.SetDefault("openai"))

	p, ok := r.FirstWithCapability(CapStream)
	require.True(t, ok)
	assert.Equal(t, "openai", p.Name())
}

func TestRegistry_FirstWithCapability_NameOrderWhenDefaultLacksIt(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", &staticProvider{name: "gemini", caps: CapGenerate | CapVision})
	r.Register("anthropic", &staticProvider{name: "anthropic", caps: CapGenerate | CapVision})
	r.Register("openai", &staticProvider{name: "openai", caps: CapGenerate})
	require.NoError(t, r.SetDefault("openai"))

	p, ok := r.FirstWithCapability(CapVision)
	require.True(t, ok)
	assert.Equal(t, "anthropic", p.Name())
}

func TestRegistry_FirstWithCapability_NoMatch(t *testing.T) {
	r := NewRegistry()
	r.Register("openai", &staticProvider{name: "openai", caps: CapGenerate})

	_, ok := r.FirstWithCapability(CapTranscribe)
	assert.False(t, ok)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", &staticProvider{name: "gemini"})
	r.Register("anthropic", &staticProvider{name: "anthropic"})
	r.Register("openai", &staticProvider{name: "openai"})

	assert.Equal(t, []string{"anthropic", "gemini", "openai"}, r.List())
}

func TestRegistry_UnregisterClearsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("openai", &staticProvider{name: "openai"})
	require.NoError(t, r.SetDefault("openai"))

	r.Unregister("openai")
	_, err := r.Default()
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}
