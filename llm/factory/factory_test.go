package factory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/llm"
	"github.com/BaSui01/askflow/llm/speech"
	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/types"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func newTestFactory(t *testing.T, cfg Config, env map[string]string, store credentials.SecretStore) *Factory {
	t.Helper()
	opts := []credentials.Option{credentials.WithLookup(mapLookup(env))}
	if store != nil {
		opts = append(opts, credentials.WithSecretStore(store))
	}
	return New(cfg, credentials.NewResolver(opts...), nil, zaptest.NewLogger(t))
}

func TestSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "openai"}, SupportedProviders())
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

func TestFactory_Provider_BuiltIn(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-o",
		"ANTHROPIC_API_KEY": "sk-a",
		"GEMINI_API_KEY":    "sk-g",
	}

	tests := []struct {
		requested string
		wantName  string
	}{
		{requested: "openai", wantName: "openai"},
		{requested: "anthropic", wantName: "anthropic"},
		{requested: "claude", wantName: "anthropic"},
		{requested: " Gemini ", wantName: "gemini"},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			f := newTestFactory(t, Config{}, env, nil)
			p, err := f.Provider(context.Background(), tt.requested, ModeStreamingLLM, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
			assert.True(t, p.Capabilities().Has(llm.CapStream))
		})
	}
}

func TestFactory_Provider_UnknownProvider(t *testing.T) {
	f := newTestFactory(t, Config{}, nil, nil)
	_, err := f.Provider(context.Background(), "hal9000", ModeLLM, Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedProvider, types.GetErrorCode(err))
}

func TestFactory_Provider_GenericEndpoint(t *testing.T) {
	f := newTestFactory(t,
		Config{Endpoints: map[string]string{"groq": "https://api.groq.example"}},
		map[string]string{"GROQ_API_KEY": "gsk-1"}, nil)

	p, err := f.Provider(context.Background(), "groq", ModeLLM, Options{})
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
	assert.True(t, p.Capabilities().Has(llm.CapGenerate))
	assert.False(t, p.Capabilities().Has(llm.CapVision))
}

func TestFactory_Provider_ModeValidation(t *testing.T) {
	f := newTestFactory(t, Config{}, map[string]string{"OPENAI_API_KEY": "sk-o"}, nil)

	_, err := f.Provider(context.Background(), "openai", ModeSTT, Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedCapability, types.GetErrorCode(err))

	_, err = f.Provider(context.Background(), "openai", Mode("paint"), Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedCapability, types.GetErrorCode(err))
}

func TestFactory_Provider_MissingCredential(t *testing.T) {
	f := newTestFactory(t, Config{}, nil, nil)
	_, err := f.Provider(context.Background(), "openai", ModeLLM, Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingCredential, types.GetErrorCode(err))
}

func TestFactory_Provider_WiresEnricher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Paris."}}]}`)
	}))
	t.Cleanup(server.Close)

	window := memory.NewWindow()
	f := newTestFactory(t,
		Config{Endpoints: map[string]string{"openai": server.URL}},
		map[string]string{"OPENAI_API_KEY": "sk-o"}, nil)

	p, err := f.Provider(context.Background(), "openai", ModeLLM, Options{Window: window})
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), []types.Message{
		types.NewUserMessage("capital of France?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", text)

	entries := window.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, memory.RoleUser, entries[0].Role)
	assert.Equal(t, "capital of France?", entries[0].Content)
	assert.Equal(t, memory.RoleAssistant, entries[1].Role)
	assert.Equal(t, "Paris.", entries[1].Content)
}

// ---------------------------------------------------------------------------
// Transcriber
// ---------------------------------------------------------------------------

func TestFactory_Transcriber_Direct(t *testing.T) {
	f := newTestFactory(t, Config{}, map[string]string{"OPENAI_API_KEY": "sk-o"}, nil)

	tr, err := f.Transcriber(context.Background(), "openai", Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai-stt", tr.Name())
}

func TestFactory_Transcriber_UnknownProvider(t *testing.T) {
	f := newTestFactory(t, Config{}, nil, nil)
	_, err := f.Transcriber(context.Background(), "hal9000", Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedProvider, types.GetErrorCode(err))
}

// A chat-only provider substitutes the default STT provider, and the
// substituted call must authenticate with environment credentials, never
// with the secret entered for the original provider.
func TestFactory_Transcriber_FallbackUsesEnvironmentOnly(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"dictated text","language":"english","duration":1.0}`)
	}))
	t.Cleanup(server.Close)

	store := credentials.SecretStoreFunc(func(ctx context.Context, provider string) (string, bool, error) {
		if provider == "anthropic" {
			return "anthropic-user-secret", true, nil
		}
		return "", false, nil
	})

	f := newTestFactory(t,
		Config{Endpoints: map[string]string{"openai": server.URL}},
		map[string]string{"OPENAI_API_KEY": "env-openai-key"},
		store)

	tr, err := f.Transcriber(context.Background(), "anthropic",
		Options{Overrides: credentials.Overrides{APIKey: "caller-override"}})
	require.NoError(t, err)

	result, err := tr.Transcribe(context.Background(), &speech.TranscriptionRequest{
		Audio:    strings.NewReader("fake-audio"),
		Filename: "clip.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "dictated text", result.Text)

	assert.Equal(t, "Bearer env-openai-key", gotAuth)
	assert.NotContains(t, gotAuth, "anthropic-user-secret")
	assert.NotContains(t, gotAuth, "caller-override")
}

func TestFactory_Transcriber_FallbackWithoutEnvCredentialFails(t *testing.T) {
	store := credentials.SecretStoreFunc(func(ctx context.Context, provider string) (string, bool, error) {
		return "stored-secret", true, nil
	})

	f := newTestFactory(t, Config{}, nil, store)

	_, err := f.Transcriber(context.Background(), "gemini", Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingCredential, types.GetErrorCode(err))
}

func TestFactory_Transcriber_GenericProviderFallsBack(t *testing.T) {
	f := newTestFactory(t,
		Config{Endpoints: map[string]string{"groq": "https://api.groq.example"}},
		map[string]string{"OPENAI_API_KEY": "env-openai-key"}, nil)

	tr, err := f.Transcriber(context.Background(), "groq", Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai-stt", tr.Name())
}

func TestFactory_Transcriber_BadDefaultRejected(t *testing.T) {
	f := newTestFactory(t, Config{DefaultSTTProvider: "gemini"},
		map[string]string{"ANTHROPIC_API_KEY": "sk-a"}, nil)

	_, err := f.Transcriber(context.Background(), "anthropic", Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedCapability, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// BuildRegistry
// ---------------------------------------------------------------------------

func TestFactory_BuildRegistry(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-o",
		"ANTHROPIC_API_KEY": "sk-a",
	}
	f := newTestFactory(t, Config{}, env, nil)

	reg, err := f.BuildRegistry(context.Background(),
		[]string{"openai", "claude", "gemini"}, "openai", Options{})
	require.NoError(t, err)

	// gemini has no credential and is skipped, not fatal.
	assert.Equal(t, 2, reg.Len())
	assert.ElementsMatch(t, []string{"openai", "anthropic"}, reg.List())

	def, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "openai", def.Name())
}

func TestFactory_BuildRegistry_BadDefault(t *testing.T) {
	f := newTestFactory(t, Config{}, map[string]string{"OPENAI_API_KEY": "sk-o"}, nil)

	_, err := f.BuildRegistry(context.Background(), []string{"openai"}, "gemini", Options{})
	require.Error(t, err)
}
