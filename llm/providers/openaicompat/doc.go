// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package openaicompat provides a shared base implementation for all
// providers that speak the OpenAI Chat Completions dialect.
//
// Instead of duplicating HTTP handling, SSE parsing, message conversion,
// chunk sanitization, and error mapping in each adapter, concrete providers
// embed openaicompat.Provider and only override what differs:
//
//   - Provider name and fallback model
//   - Base URL
//   - Declared capabilities
//   - Custom headers (if any)
//   - Request hooks for provider-specific body fields
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:  "openai",
//	    BaseURL:       "https://api.openai.com",
//	    FallbackModel: "gpt-4o-mini",
//	}, creds, params, enricher, logger)
//
// The streaming contract implemented by StreamSSE is shared by every
// adapter built on this package: sanitized Token events, a whitespace
// placeholder for unparseable chunks, and exactly one terminal End or
// Error event before the channel closes.
package openaicompat
