// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package server manages the HTTP listener lifecycle for the gateway.
//
// Manager wraps net/http.Server with a non-blocking Start, TLS support,
// graceful Shutdown within a configured timeout, and WaitForShutdown for
// SIGINT/SIGTERM handling. Serve failures after a successful bind surface
// on the Errors channel.
//
// FromServerConfig maps the gateway configuration's server section onto
// listener settings, keeping the write timeout at zero so SSE and
// websocket responses stay open.
package server
