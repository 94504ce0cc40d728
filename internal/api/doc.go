// Package api defines wire-format types and the service surface shared by
// the HTTP server, the CLI client and the MCP tools.
//
// # Key Types
//
// Service: the operations a client can invoke (create dreams, add segments,
// finish, generate stages, recover, answer questions, check-ins, profiles).
// Local implements it over the in-process pipeline; Client implements it over
// HTTP against a running daemon.
//
// Dream, Segment, Stage: transport representations of a dream view. Stage
// artifacts are strings; stage metadata is passed through as
// json.RawMessage to avoid double-encoding.
//
// DaemonStatus: daemon running state, store counts, lane summary and
// preflight results.
//
// # Design Notes
//
// DTOs use snake_case JSON tags. Lifecycle enums are exposed as lowercase
// strings and timestamps use RFC3339 with milliseconds. Errors travel as
// ErrorResponse{error, code}; the code is the services marker name so the
// client can rebuild an error that still matches with errors.Is.
package api
