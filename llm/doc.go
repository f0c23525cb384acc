// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package llm defines the provider abstraction of the askflow gateway and the
machinery shared by every backend adapter.

# Provider abstraction

The core interface is [Provider]: synchronous generation, streaming
generation, a registry name, and a capability declaration. Adapters translate
the normalized [types.Message] list into their backend's native request shape
and the backend's native stream framing back into [types.StreamEvent] values,
so callers never see provider wire formats.

# Shared machinery

  - [Enricher] — feeds sent turns into the conversation memory, injects
    retrieved knowledge-base context into the system message, and appends
    the rendered memory context; adapters run it during request translation
  - [SanitizeChunk] — strips control characters and transport artifacts from
    streamed tokens before they become Token events
  - [Registry] — thread-safe name-to-adapter registry with a default
    provider for capability fallback
  - [Chain] / [Middleware] — composable logging, timeout, recovery and
    metrics wrappers for the generate path
  - [WithCredentialOverrides] — per-request credential overrides carried
    through context only, never through API JSON

# Subpackages

  - llm/providers — backend adapter implementations
  - llm/factory — provider construction and mode dispatch
  - llm/speech — speech-to-text transcription contract and adapters
  - llm/tokenizer — token counting for budget decisions
*/
package llm
