// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package anthropic adapts the Anthropic Messages API.

The Claude wire protocol differs enough from the OpenAI dialect that the
adapter stands alone instead of embedding the openaicompat base:

  - Authentication uses the x-api-key header, not a Bearer token.
  - The system message is lifted out of the message list into a dedicated
    top-level field.
  - Message content is an array of typed blocks (text, base64 image).
  - Streaming uses named SSE events; text arrives in content_block_delta
    events and the stream ends on message_stop.
  - max_tokens is mandatory; the adapter supplies a default when the
    caller does not set one.

The normalized streaming contract is the same as every other adapter:
sanitized tokens, whitespace salvage for unparseable chunks, exactly one
terminal event, and a memory commit on normal completion.
*/
package anthropic
