// Package profile derives per-user dream aggregates.
//
// The aggregates are never authored directly: every completed summary
// recomputes the user's counters and archetype from all summarized dreams,
// so repeated or out-of-order events converge on the same snapshot.
package profile
