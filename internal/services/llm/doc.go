// Package llm provides an OpenAI-compatible chat client (OpenRouter by
// default) for the text stages of the dream pipeline.
//
// CompleteJSON requests a JSON object and is used by the summary, questions
// and visual-element prompts; decode its output with DecodeLLMJSON, which
// tolerates code fences and surrounding prose. CompleteText returns prose
// for the analysis, expanded analysis and check-in insight prompts.
//
// Requests are retried on HTTP 408/429/5xx, network timeouts and empty
// completions using exponential backoff. A Retry-After header replaces the
// next delay, capped by the configured maximum. Context cancellation stops
// retrying immediately.
package llm
