package credentials

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/askflow/types"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func staticStore(secret string) SecretStore {
	return SecretStoreFunc(func(ctx context.Context, provider string) (string, bool, error) {
		if secret == "" {
			return "", false, nil
		}
		return secret, true, nil
	})
}

// ---------- precedence ----------

func TestResolve_OverrideBeatsStoredAndEnv(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		WithLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "env-key"})),
		WithSecretStore(staticStore("stored-key")),
	)

	creds, err := r.Resolve(context.Background(), "openai", Overrides{APIKey: "override-key"})
	require.NoError(t, err)
	assert.Equal(t, "override-key", creds.APIKey)
}

func TestResolve_StoredBeatsEnv(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		WithLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "env-key"})),
		WithSecretStore(staticStore("stored-key")),
	)

	creds, err := r.Resolve(context.Background(), "openai", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "stored-key", creds.APIKey)
}

func TestResolve_EnvOnly(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithLookup(mapLookup(map[string]string{
		"ASKFLOW_OPENAI_API_KEY": "scoped-key",
	})))

	creds, err := r.Resolve(context.Background(), "openai", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "scoped-key", creds.APIKey)
}

func TestResolve_SessionTripleIsAtomic(t *testing.T) {
	t.Parallel()

	// A session token in the environment forces the full env triple even
	// when a stored user key exists.
	r := NewResolver(
		WithLookup(mapLookup(map[string]string{
			"AWS_ACCESS_KEY_ID":     "AKIA-ENV",
			"AWS_SECRET_ACCESS_KEY": "env-secret",
			"AWS_SESSION_TOKEN":     "env-token",
		})),
		WithSecretStore(staticStore("stored-key")),
	)

	creds, err := r.Resolve(context.Background(), "anthropic", Overrides{})
	require.NoError(t, err)
	assert.Empty(t, creds.APIKey)
	assert.Equal(t, "AKIA-ENV", creds.AccessKeyID)
	assert.Equal(t, "env-secret", creds.SecretAccessKey)
	assert.Equal(t, "env-token", creds.SessionToken)
}

func TestResolve_DanglingSessionTokenIsIgnored(t *testing.T) {
	t.Parallel()

	// Token present but the pair is incomplete: the token must not be mixed
	// with material from any other level.
	r := NewResolver(
		WithLookup(mapLookup(map[string]string{
			"AWS_SESSION_TOKEN": "env-token",
		})),
		WithSecretStore(staticStore("stored-key")),
	)

	creds, err := r.Resolve(context.Background(), "anthropic", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "stored-key", creds.APIKey)
	assert.Empty(t, creds.SessionToken)
}

func TestResolve_EnvKeyPairWithoutToken(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithLookup(mapLookup(map[string]string{
		"ASKFLOW_ACCESS_KEY_ID":     "AKIA-PERM",
		"ASKFLOW_SECRET_ACCESS_KEY": "perm-secret",
	})))

	creds, err := r.Resolve(context.Background(), "anthropic", Overrides{})
	require.NoError(t, err)
	assert.True(t, creds.HasKeyPair())
	assert.Empty(t, creds.SessionToken)
}

func TestResolve_MissingCredential(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithLookup(mapLookup(nil)))

	_, err := r.Resolve(context.Background(), "openai", Overrides{})
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingCredential, types.GetErrorCode(err))
}

// ---------- optional fields and defaults ----------

func TestResolve_ModelAndRegionDefaults(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithLookup(mapLookup(map[string]string{
		"OPENAI_API_KEY": "env-key",
	})))

	creds, err := r.Resolve(context.Background(), "openai", Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", creds.ModelID)
	assert.Equal(t, "us-east-1", creds.Region)
	assert.Empty(t, creds.KnowledgeBaseID)
}

func TestResolve_ModelOverrideAndEnvKnowledgeBase(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithLookup(mapLookup(map[string]string{
		"OPENAI_API_KEY":            "env-key",
		"ASKFLOW_KNOWLEDGE_BASE_ID": "kb-42",
		"ASKFLOW_REGION":            "eu-west-1",
	})))

	creds, err := r.Resolve(context.Background(), "openai", Overrides{ModelID: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", creds.ModelID)
	assert.Equal(t, "eu-west-1", creds.Region)
	assert.Equal(t, "kb-42", creds.KnowledgeBaseID)
}

// ---------- fallback path ----------

func TestResolveFromEnv_IgnoresStore(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		WithLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "env-key"})),
		WithSecretStore(staticStore("stored-key")),
	)

	creds, err := r.ResolveFromEnv(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "env-key", creds.APIKey)
}

// ---------- masking ----------

func TestResolvedCredentials_Masking(t *testing.T) {
	t.Parallel()

	creds := ResolvedCredentials{
		Provider: "openai",
		APIKey:   "sk-very-secret",
		ModelID:  "gpt-4o-mini",
	}

	assert.NotContains(t, creds.String(), "sk-very-secret")

	raw, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "sk-very-secret"))
	assert.Contains(t, string(raw), `"api_key":"***"`)
}
