// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package telemetry initializes the OpenTelemetry SDK for the gateway.
//
// Init builds OTLP gRPC exporters for traces and metrics and installs
// them as the global providers. When telemetry is disabled in the
// configuration, Init returns noop providers and never touches the
// network, so the gateway runs identically with or without a collector.
package telemetry
