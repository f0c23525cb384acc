// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package gemini adapts the Google Gemini generateContent API.

The wire protocol is not OpenAI-compatible, so the adapter stands alone:

  - Authentication uses the x-goog-api-key header.
  - The assistant role is called "model"; the system message travels as a
    top-level systemInstruction.
  - Images ride inline as base64 inlineData parts.
  - Streaming posts to :streamGenerateContent with alt=sse, which frames
    incremental chunks as standard data: events. There is no end sentinel;
    a clean body close is normal completion.

The normalized streaming contract is the same as every other adapter:
sanitized tokens, whitespace salvage for unparseable chunks, exactly one
terminal event, and a memory commit on normal completion.
*/
package gemini
