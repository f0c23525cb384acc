package llm

import (
	"context"

	"github.com/BaSui01/askflow/credentials"
)

type credentialOverrideKey struct{}

// WithCredentialOverrides stores per-request credential overrides in ctx.
// Overrides travel only through context, never through API JSON, so callers
// outside the process cannot inject key material.
func WithCredentialOverrides(ctx context.Context, o credentials.Overrides) context.Context {
	if o == (credentials.Overrides{}) {
		return ctx
	}
	return context.WithValue(ctx, credentialOverrideKey{}, o)
}

// CredentialOverridesFromContext reads credential overrides from ctx.
func CredentialOverridesFromContext(ctx context.Context) (credentials.Overrides, bool) {
	v := ctx.Value(credentialOverrideKey{})
	if v == nil {
		return credentials.Overrides{}, false
	}
	o, ok := v.(credentials.Overrides)
	return o, ok
}
