// Package store persists dreams, their segments and enrichment stages,
// check-ins and derived profiles in SQLite.
//
// Every status column is mutated through a single conditional UPDATE (or
// upsert) keyed on the previous statuses the matching lifecycle machine
// accepts, so concurrent workers race on the database rather than on
// in-memory checks: the loser sees zero affected rows and receives a
// lifecycle.TransitionError naming the status that blocked it. Stage claims
// additionally require a non-empty dream transcript and report
// services.ErrNoTranscript otherwise.
//
// Processing rows carry a heartbeat. AbandonStale fails rows whose
// heartbeat expired (or all processing rows at startup) and reports the
// affected dreams so recovery can pick them up.
//
// Schema changes ship as numbered files under migrations/ and are applied
// in order inside a transaction at Open.
package store
