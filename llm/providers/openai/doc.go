// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package openai adapts the OpenAI chat API.

The adapter embeds the OpenAI-compatible base provider and adds only what
is specific to OpenAI itself: the public endpoint, the fallback model, the
optional Organization header, and vision support. Request translation,
streaming, sanitization, and error mapping are all inherited.

Speech-to-text against the same account lives in the speech package; the
provider factory pairs the two when a request enters in transcription mode.
*/
package openai
