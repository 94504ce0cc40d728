// Package lifecycle defines the status state machines shared by segments,
// enrichment stages and check-ins.
//
// Each Machine is a total function from (status, event) to the next status.
// Unknown pairs are rejected with a TransitionError rather than silently
// overwriting the stored status. The store uses Sources to build conditional
// updates keyed on the expected previous status, so every persisted mutation
// is a compare-and-set against the same table the in-memory checks use.
package lifecycle
