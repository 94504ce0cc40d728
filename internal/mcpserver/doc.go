// Package mcpserver exposes the dream pipeline to MCP clients.
//
// Every tool is a thin adapter over api.Service, so the same operations the
// HTTP API serves are available to agents over stdio. Failures are returned
// as tool errors prefixed with the service error code.
package mcpserver
