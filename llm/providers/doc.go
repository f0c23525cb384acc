// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package providers holds the wire helpers shared by every backend adapter:
// HTTP status to error-code mapping with retry markers, error-body parsing,
// OpenAI-compatible chat completion structs, message conversion with inline
// image data URLs, and context-aware stream event delivery.
//
// Adapter implementations live in the subpackages. openaicompat is the
// embeddable base for any /v1/chat/completions dialect; openai builds on it
// and adds multimodal content parts; anthropic and gemini speak their native
// wire formats directly.
package providers
