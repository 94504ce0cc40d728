// Package pipeline drives a dream from recorded segments to enriched
// artifacts.
//
// Segment transcription settles into the consolidation barrier, which joins
// completed transcripts into the dream transcript and enqueues the configured
// automatic stages. Each enrichment stage (summary, analysis, expanded
// analysis, questions, image) runs through its own lifecycle in the store and
// is claimed with a conditional transition, so concurrent triggers collapse to
// a single generation. Recovery, the status projector and the blocking finish
// operation live here as well; waiters block on Hub channels instead of
// polling.
package pipeline
