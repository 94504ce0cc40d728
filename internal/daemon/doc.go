// Package daemon coordinates the long-running Reverie process.
//
// It ties configuration, the SQLite store, the workflow manager and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. The API server translates requests into api.Service calls and
// maps service error markers onto HTTP status codes; it holds no pipeline
// logic of its own.
//
// Keep orchestration logic here: pipeline behaviour lives in the pipeline,
// checkin and profile packages while the daemon focuses on startup, shutdown
// and request plumbing.
package daemon
