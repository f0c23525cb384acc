// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package ask drives the top-level request pipeline: capture context,
// build the prompt, construct the streaming adapter through the provider
// factory, forward tokens to the UI boundary and persist the finished
// exchange.
//
// One Orchestrator serves one logical session. Its state machine runs
// Idle -> CapturingContext -> Dispatched -> Streaming -> Saving -> Done,
// with Aborted reachable from any state on hard failure. Empty input is
// rejected before any side effect; a failed screenshot or history load
// degrades the request instead of aborting it; a persistence failure after
// a clean stream demotes the result to partial success rather than losing
// the answer the user already saw.
//
// Incremental progress flows through the Notifier (hide-input, per-token
// chunk, stream-end); the Result returns synchronously once the stream has
// terminated. Cancelling the context tears down the provider stream and
// skips the saving phase entirely.
package ask
