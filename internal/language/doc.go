// Package language normalizes the transcription language setting into the
// ISO 639-1 codes accepted by the HTTP and WhisperX backends.
package language
