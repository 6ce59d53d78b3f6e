// Package cli wires together the Cobra command tree for the vibe binary.
//
// It defines the root command and all subcommands (run, schema, threads,
// config, version), binds flags, reads configuration, builds the tracker
// backend, invokes the review engine, and returns deterministic exit codes
// for CI gating.
package cli
