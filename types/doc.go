// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contract for the askflow gateway.

types is the lowest-level public package. It depends on no internal package
and supplies the unified types that ask, llm, retrieval, memory, and
persistence build on, so that no import cycles can form.

Core types:

  - Role / Message / ContentPart — conversation messages built from ordered
    text and inline-image parts; at most one system message, always first
  - StreamEvent — streaming response events (Token | End | Error) with
    exactly one terminal event per stream
  - Error / ErrorCode — structured error taxonomy with HTTP status,
    Retryable and Provider markers, plus WithCause/WithHTTPStatus builders
*/
package types
