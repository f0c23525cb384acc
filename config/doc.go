// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

// Package config loads and validates the gateway configuration.
//
// Configuration is resolved in three layers: built-in defaults, then an
// optional YAML file, then ASKFLOW_* environment variables, each layer
// overriding the one before it. The Watcher re-reads the file at runtime
// and hands validated snapshots to its callbacks; a bad edit never
// replaces a good configuration.
//
// The package holds plain data only. Translating a Config into live
// components (providers, stores, loggers) happens at the composition
// root, so nothing here imports the rest of the module.
package config
