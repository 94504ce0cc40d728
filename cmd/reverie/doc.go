// Package main hosts the Reverie CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, talks to a
// running daemon over its HTTP API for dream, check-in and profile
// operations, serves the same operations as MCP tools over stdio, and
// scaffolds configuration. Configuration resolution happens once per
// invocation in commandContext so subcommands only deal with presentation.
//
// Add behaviour to the internal packages first and surface it here through a
// command or flag; the CLI stays a thin layer over api.Service.
package main
