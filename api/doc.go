// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package api defines the wire types of the AskFlow HTTP surface.
//
// The gateway exposes three ask endpoints plus operational routes:
//
//   - POST /v1/ask          synchronous ask, returns AskResponse
//   - POST /v1/ask/stream   SSE stream of normalized StreamChunk lines
//   - GET  /v1/ask/ws       websocket, AskRequest in / WSFrame out
//   - GET  /health, /healthz, /ready, /version, /metrics
//
// Whatever the upstream provider speaks natively, the streaming endpoints
// always emit the same chunk shape:
//
//	data: {"choices":[{"delta":{"content":"<token>"}}]}
//	data: [DONE]
//
// Request handling lives in api/handlers; this package holds only the
// request and response structures shared between handlers and clients.
package api
