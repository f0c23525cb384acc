// Package credentials resolves per-provider auth material and model/region
// parameters from a layered precedence: caller override > stored user secret >
// environment-provided session credential set > individual environment
// variables > built-in default. Only model id and region have defaults;
// secret material never does.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/types"
)

// ResolvedCredentials is the outcome of one resolution pass. It is recomputed
// per request unless the caller caches it, and must never be written to disk.
type ResolvedCredentials struct {
	Provider        string
	APIKey          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	ModelID         string
	KnowledgeBaseID string
}

// HasAPIKey reports whether a single-key credential is present.
func (c ResolvedCredentials) HasAPIKey() bool {
	return c.APIKey != ""
}

// HasKeyPair reports whether an access-key/secret pair is present.
func (c ResolvedCredentials) HasKeyPair() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// HasKeyMaterial reports whether any usable primary credential is present.
func (c ResolvedCredentials) HasKeyMaterial() bool {
	return c.HasAPIKey() || c.HasKeyPair()
}

// String masks all secret fields. Safe for logs.
func (c ResolvedCredentials) String() string {
	return fmt.Sprintf("ResolvedCredentials{Provider:%s, APIKey:%s, AccessKeyID:%s, SessionToken:%s, Region:%s, ModelID:%s, KnowledgeBaseID:%s}",
		c.Provider, maskPresence(c.APIKey), maskPresence(c.AccessKeyID), maskPresence(c.SessionToken), c.Region, c.ModelID, c.KnowledgeBaseID)
}

// MarshalJSON masks all secret fields. Resolved credentials must never be
// serialized in clear, not even into debug dumps.
func (c ResolvedCredentials) MarshalJSON() ([]byte, error) {
	type masked struct {
		Provider        string `json:"provider"`
		APIKey          string `json:"api_key,omitempty"`
		AccessKeyID     string `json:"access_key_id,omitempty"`
		SessionToken    string `json:"session_token,omitempty"`
		Region          string `json:"region,omitempty"`
		ModelID         string `json:"model_id,omitempty"`
		KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
	}
	return json.Marshal(masked{
		Provider:        c.Provider,
		APIKey:          maskPresence(c.APIKey),
		AccessKeyID:     maskPresence(c.AccessKeyID),
		SessionToken:    maskPresence(c.SessionToken),
		Region:          c.Region,
		ModelID:         c.ModelID,
		KnowledgeBaseID: c.KnowledgeBaseID,
	})
}

func maskPresence(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Overrides carries caller-supplied values. Empty fields are unset and do not
// participate in precedence.
type Overrides struct {
	APIKey          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	ModelID         string
	KnowledgeBaseID string
}

// String masks all secret fields. Safe for logs.
func (o Overrides) String() string {
	return fmt.Sprintf("Overrides{APIKey:%s, AccessKeyID:%s, SessionToken:%s, Region:%s, ModelID:%s, KnowledgeBaseID:%s}",
		maskPresence(o.APIKey), maskPresence(o.AccessKeyID), maskPresence(o.SessionToken), o.Region, o.ModelID, o.KnowledgeBaseID)
}

// MarshalJSON masks all secret fields. Overrides are read from context only,
// never deserialized from API JSON.
func (o Overrides) MarshalJSON() ([]byte, error) {
	type masked struct {
		APIKey          string `json:"api_key,omitempty"`
		AccessKeyID     string `json:"access_key_id,omitempty"`
		SessionToken    string `json:"session_token,omitempty"`
		Region          string `json:"region,omitempty"`
		ModelID         string `json:"model_id,omitempty"`
		KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
	}
	return json.Marshal(masked{
		APIKey:          maskPresence(o.APIKey),
		AccessKeyID:     maskPresence(o.AccessKeyID),
		SessionToken:    maskPresence(o.SessionToken),
		Region:          o.Region,
		ModelID:         o.ModelID,
		KnowledgeBaseID: o.KnowledgeBaseID,
	})
}

// SecretStore exposes the user-entered secret for a provider, typically backed
// by the settings layer. Implementations return ok=false when nothing is
// stored.
type SecretStore interface {
	Secret(ctx context.Context, provider string) (string, bool, error)
}

// SecretStoreFunc adapts a function to the SecretStore interface.
type SecretStoreFunc func(ctx context.Context, provider string) (string, bool, error)

func (f SecretStoreFunc) Secret(ctx context.Context, provider string) (string, bool, error) {
	return f(ctx, provider)
}

// Environment variable names shared across providers.
const (
	envAccessKeyID     = "ASKFLOW_ACCESS_KEY_ID"
	envSecretAccessKey = "ASKFLOW_SECRET_ACCESS_KEY"
	envSessionToken    = "ASKFLOW_SESSION_TOKEN"
	envRegion          = "ASKFLOW_REGION"
	envKnowledgeBaseID = "ASKFLOW_KNOWLEDGE_BASE_ID"

	awsAccessKeyID     = "AWS_ACCESS_KEY_ID"
	awsSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	awsSessionToken    = "AWS_SESSION_TOKEN"
	awsRegion          = "AWS_REGION"
)

// Built-in defaults cover model id and region only. A provider with no entry
// has no default model.
var providerDefaults = map[string]struct {
	ModelID string
	Region  string
}{
	"openai":    {ModelID: "gpt-4o-mini"},
	"anthropic": {ModelID: "claude-3-5-sonnet-20241022"},
	"gemini":    {ModelID: "gemini-2.5-flash"},
}

const defaultRegion = "us-east-1"

// Resolver resolves credentials from a snapshot of the environment and the
// secret store. It performs no caching and has no side effects, so two calls
// against the same snapshot always agree.
type Resolver struct {
	lookup func(string) (string, bool)
	store  SecretStore
	logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the environment lookup, mainly for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookup = lookup }
}

// WithSecretStore attaches the user-secret store.
func WithSecretStore(store SecretStore) Option {
	return func(r *Resolver) { r.store = store }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver reading from the process environment unless
// overridden.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookup: os.LookupEnv,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "credential_resolver"))
	return r
}

// Resolve produces the credentials for one provider. Optional fields resolve
// to empty without error; a missing primary credential after the whole
// precedence chain fails with a MISSING_CREDENTIAL error.
func (r *Resolver) Resolve(ctx context.Context, provider string, o Overrides) (ResolvedCredentials, error) {
	creds := ResolvedCredentials{Provider: provider}

	creds.ModelID = firstNonEmpty(
		o.ModelID,
		r.env(scopedName(provider, "MODEL"), upperName(provider)+"_MODEL"),
		providerDefaults[provider].ModelID,
	)
	creds.Region = firstNonEmpty(
		o.Region,
		r.env(envRegion, awsRegion),
		providerDefaults[provider].Region,
		defaultRegion,
	)
	creds.KnowledgeBaseID = firstNonEmpty(
		o.KnowledgeBaseID,
		r.env(envKnowledgeBaseID, "KNOWLEDGE_BASE_ID"),
	)

	if err := r.resolveKeyMaterial(ctx, provider, o, &creds); err != nil {
		return ResolvedCredentials{}, err
	}
	return creds, nil
}

// ResolveFromEnv resolves ignoring both caller overrides and the secret
// store. The STT fallback path uses it so a substituted provider never
// inherits another provider's user-entered secret.
func (r *Resolver) ResolveFromEnv(ctx context.Context, provider string) (ResolvedCredentials, error) {
	envOnly := &Resolver{lookup: r.lookup, logger: r.logger}
	return envOnly.Resolve(ctx, provider, Overrides{})
}

func (r *Resolver) resolveKeyMaterial(ctx context.Context, provider string, o Overrides, creds *ResolvedCredentials) error {
	// Level 1: caller override.
	if o.APIKey != "" {
		creds.APIKey = o.APIKey
		creds.SessionToken = o.SessionToken
		return nil
	}
	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		creds.AccessKeyID = o.AccessKeyID
		creds.SecretAccessKey = o.SecretAccessKey
		creds.SessionToken = o.SessionToken
		return nil
	}

	// Session-token marker: when the environment carries a temporary token,
	// the whole access-key/secret/token set must come from the environment.
	// Mixing a stored user key with an environment-issued token produces
	// credentials no backend accepts, so the atomic set outranks the store.
	if token := r.env(envSessionToken, awsSessionToken); token != "" {
		accessKey := r.env(envAccessKeyID, awsAccessKeyID)
		secretKey := r.env(envSecretAccessKey, awsSecretAccessKey)
		if accessKey != "" && secretKey != "" {
			creds.AccessKeyID = accessKey
			creds.SecretAccessKey = secretKey
			creds.SessionToken = token
			return nil
		}
		r.logger.Warn("session token present without complete key pair, ignoring token",
			zap.String("provider", provider))
	}

	// Level 2: user-entered stored secret.
	if r.store != nil {
		secret, ok, err := r.store.Secret(ctx, provider)
		if err != nil {
			return types.NewError(types.ErrMissingCredential, "secret store lookup failed").
				WithProvider(provider).WithCause(err)
		}
		if ok && strings.TrimSpace(secret) != "" {
			creds.APIKey = strings.TrimSpace(secret)
			return nil
		}
	}

	// Level 4: individual environment variables.
	if key := r.env(scopedName(provider, "API_KEY"), upperName(provider)+"_API_KEY"); key != "" {
		creds.APIKey = key
		return nil
	}
	if accessKey, secretKey := r.env(envAccessKeyID, awsAccessKeyID), r.env(envSecretAccessKey, awsSecretAccessKey); accessKey != "" && secretKey != "" {
		creds.AccessKeyID = accessKey
		creds.SecretAccessKey = secretKey
		return nil
	}

	// Level 5 has no secret defaults.
	return types.NewError(types.ErrMissingCredential,
		fmt.Sprintf("no API key or access key pair resolved for provider %q", provider)).
		WithProvider(provider)
}

// env returns the first set, non-empty value among the given variable names.
func (r *Resolver) env(names ...string) string {
	for _, name := range names {
		if v, ok := r.lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func scopedName(provider, suffix string) string {
	return "ASKFLOW_" + upperName(provider) + "_" + suffix
}

func upperName(provider string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
