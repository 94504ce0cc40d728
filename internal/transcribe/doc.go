// Package transcribe turns pending segments into text.
//
// Worker.Process claims a segment (pending -> processing), runs the
// configured Backend with heartbeats, and records completed or failed.
// After every terminal transition it calls the registered settled hook,
// which is how the consolidation barrier learns about progress. There is no
// automatic retry; recovery requeues failed segments explicitly.
//
// Two backends are available: an OpenAI-compatible HTTP endpoint and a local
// WhisperX run through uvx.
package transcribe
