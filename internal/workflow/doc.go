// Package workflow runs the daemon's background lanes.
//
// The Manager recovers orphaned work once at startup and then polls the
// store on independent lanes: pending segments are handed to the
// transcription worker, pending stages to the pipeline, unresolved check-ins
// to the insight service, and a heartbeat lane abandons work whose claim went
// stale and recovers the affected dreams. Request handlers dispatch work
// directly; the lanes pick up whatever a saturated pool or a restart left
// behind, and the conditional claims in the store keep the two paths from
// processing the same entity twice.
package workflow
