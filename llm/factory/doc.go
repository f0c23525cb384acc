// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package factory constructs provider adapters by name and mode.

A static table maps each provider name to the capabilities the factory can
serve for it. Unknown names fail with UNSUPPORTED_PROVIDER unless a
configured endpoint turns them into generic OpenAI-compatible chat
providers; known names asked for a mode they lack fail with
UNSUPPORTED_CAPABILITY. The one exception is transcription: a chat-only
provider substitutes the default STT provider, logged, with credentials
re-resolved from the environment so a secret entered for one provider is
never sent to another.

The factory also owns adapter wiring: it resolves credentials once per
construction and attaches the conversation memory window and the retrieval
client through the prompt enricher.

Living in its own package breaks the import cycle that would occur if this
logic sat in the llm package, which every provider sub-package imports.
*/
package factory
