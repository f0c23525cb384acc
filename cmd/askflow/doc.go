// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Command askflow runs the streaming LLM gateway.
//
// Subcommands:
//
//	serve      Start the HTTP server (default config search path, --config overrides)
//	migrate    Run schema migrations for SQL session stores
//	version    Print build information
//	health     Probe a running gateway's /health endpoint
//
// The serve command loads the YAML config, builds the gateway facade,
// and serves /v1/ask, /v1/ask/stream and /v1/ask/ws behind a middleware
// chain: panic recovery, request IDs, security headers, access logging,
// Prometheus metrics, and optionally OpenTelemetry tracing, JWT auth and
// per-IP rate limiting depending on configuration. Version, BuildTime and
// GitCommit are injected at build time via -ldflags.
package main
