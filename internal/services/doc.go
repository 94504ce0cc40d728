// Package services defines shared utilities consumed by the pipeline and its
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp dream, segment and check-in identifiers,
//     stage names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so that failures stay
//     classifiable with errors.Is after context is added.
//   - HTTP status and code mapping for the API surface.
//
// Subpackages hold the clients for external collaborators (LLM, speech to
// text, image generation).
package services
