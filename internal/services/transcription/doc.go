// Package transcription talks to an OpenAI-compatible speech-to-text
// endpoint (multipart upload to /audio/transcriptions). Transient failures
// (HTTP 429 and 5xx, network errors) are retried with exponential backoff
// inside a single Transcribe call; the segment lifecycle itself never
// retries automatically.
package transcription
