// Package imagegen requests dream illustrations from an OpenAI-compatible
// image generation endpoint and returns the hosted image URL.
package imagegen
