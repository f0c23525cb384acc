// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package migration manages the session store schema with versioned SQL
// migrations.
//
// The SQL files are embedded per dialect (postgres, mysql, sqlite) and
// applied through golang-migrate, so a deployed binary needs no external
// migration directory. The SQLite dialect uses the pure-Go driver from
// modernc.org/sqlite; nothing in the gateway requires cgo.
//
// The embedded schema matches what the GORM session store would create
// on its own, and every statement is idempotent, so running migrations
// against a database the store already initialized is safe. Deployments
// that want explicit schema control run `askflow migrate up` before
// starting the server; the CLI type backs that command.
package migration
