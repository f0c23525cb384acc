// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package handlers implements the AskFlow HTTP endpoints.
//
// AskHandler serves the synchronous ask and the SSE stream, WSHandler the
// websocket variant, HealthHandler the liveness and readiness probes. All
// three speak through the shared Response envelope and the ErrorCode to
// HTTP status mapping in common.go.
//
// Handlers never construct the ask pipeline themselves: they receive an
// AskerFactory and build one orchestrator per request, bound to a notifier
// that speaks the endpoint's wire protocol. That keeps the single-flight
// orchestrator contract intact under concurrent requests.
package handlers
