// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package persistence stores conversation sessions and their transcripts.
//
// A session groups the exchanges one user has within one feature. The
// gateway appends one row per user turn and one row per assistant turn,
// and the assistant row is only written after the upstream stream has
// finished cleanly, so a transcript never contains half an answer.
//
// Supported backends:
//   - Memory: for development and testing (default). Data is lost on restart.
//   - SQL via GORM: SQLite, MySQL and PostgreSQL, selected by Config.Type.
//   - Redis: hot storage with TTL-bound sessions and atomic Lua appends.
//   - MongoDB: document storage with an upsert-based active-session index.
//
// All backends implement SessionStore and are constructed through New.
package persistence
