// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package tlsutil centralizes TLS hardening for the gateway's outbound
// HTTP clients: TLS 1.2 floor, AEAD-only cipher suites, and transport
// limits shared by every provider and retrieval connection.
package tlsutil
