// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package metrics collects Prometheus metrics for the gateway: ask
// pipeline totals and durations, stream token counts, retrieval
// attempts and fallbacks, persistence failures, provider requests and
// HTTP server traffic.
//
// All collectors are registered at construction. NewCollector uses the
// default registry; NewCollectorWith accepts a custom registerer so
// tests can isolate registration. A nil *Collector is safe to call:
// every Record method is a no-op, so components take an optional
// collector without guarding call sites.
package metrics
