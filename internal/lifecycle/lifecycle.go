package lifecycle

import (
	"fmt"
	"slices"
	"strings"

	"reverie/internal/services"
)

// Status is the persisted lifecycle value of a segment, stage or check-in.
type Status string

const (
	StatusAbsent     Status = "absent"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AbandonedReason is the failure reason recorded when a processing entry lost
// its worker (stale heartbeat or daemon restart).
const AbandonedReason = "abandoned"

// Event names a lifecycle transition.
type Event string

const (
	EventEnqueue    Event = "enqueue"
	EventStart      Event = "start"
	EventForceStart Event = "force_start"
	EventSucceed    Event = "succeed"
	EventFail       Event = "fail"
	EventAbandon    Event = "abandon"
	EventRequeue    Event = "requeue"
)

// ParseStatus converts user or database input into a Status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusAbsent, StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return s, true
	case "":
		return StatusAbsent, true
	}
	return "", false
}

// IsTerminal reports whether no worker will move the status further.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsInFlight reports whether the status still awaits a worker outcome.
func (s Status) IsInFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

type edge struct {
	from []Status
	to   Status
}

// Machine is a named transition table.
type Machine struct {
	name  string
	edges map[Event]edge
}

// TransitionError reports a rejected (status, event) pair.
type TransitionError struct {
	Machine string
	From    Status
	Event   Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", e.Machine, e.Event, e.From)
}

// Is lets callers match TransitionError with services.ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == services.ErrInvalidTransition
}

// Name returns the machine name used in errors.
func (m *Machine) Name() string {
	return m.name
}

// Next returns the status reached by applying ev to from.
func (m *Machine) Next(from Status, ev Event) (Status, error) {
	e, ok := m.edges[ev]
	if !ok || !slices.Contains(e.from, from) {
		return from, &TransitionError{Machine: m.name, From: from, Event: ev}
	}
	return e.to, nil
}

// Allows reports whether ev is valid from the given status.
func (m *Machine) Allows(from Status, ev Event) bool {
	_, err := m.Next(from, ev)
	return err == nil
}

// Sources lists the statuses ev may be applied to. The slice is a copy.
func (m *Machine) Sources(ev Event) []Status {
	e, ok := m.edges[ev]
	if !ok {
		return nil
	}
	return slices.Clone(e.from)
}

// Target returns the status ev leads to.
func (m *Machine) Target(ev Event) (Status, bool) {
	e, ok := m.edges[ev]
	return e.to, ok
}

// Segments governs transcription_status.
var Segments = &Machine{
	name: "segment",
	edges: map[Event]edge{
		EventStart:   {from: []Status{StatusPending}, to: StatusProcessing},
		EventSucceed: {from: []Status{StatusPending, StatusProcessing}, to: StatusCompleted},
		EventFail:    {from: []Status{StatusPending, StatusProcessing}, to: StatusFailed},
		EventAbandon: {from: []Status{StatusProcessing}, to: StatusFailed},
		EventRequeue: {from: []Status{StatusFailed}, to: StatusPending},
	},
}

// Stages governs each enrichment stage status of a dream.
var Stages = &Machine{
	name: "stage",
	edges: map[Event]edge{
		EventEnqueue:    {from: []Status{StatusAbsent, StatusFailed}, to: StatusPending},
		EventStart:      {from: []Status{StatusAbsent, StatusPending, StatusFailed}, to: StatusProcessing},
		EventForceStart: {from: []Status{StatusAbsent, StatusPending, StatusFailed, StatusCompleted}, to: StatusProcessing},
		EventSucceed:    {from: []Status{StatusProcessing}, to: StatusCompleted},
		EventFail:       {from: []Status{StatusProcessing}, to: StatusFailed},
		EventAbandon:    {from: []Status{StatusProcessing}, to: StatusFailed},
	},
}

// CheckIns governs insight_status.
var CheckIns = &Machine{
	name: "checkin",
	edges: map[Event]edge{
		EventStart:   {from: []Status{StatusPending, StatusFailed}, to: StatusProcessing},
		EventSucceed: {from: []Status{StatusProcessing}, to: StatusCompleted},
		EventFail:    {from: []Status{StatusProcessing}, to: StatusFailed},
		EventAbandon: {from: []Status{StatusProcessing}, to: StatusFailed},
	},
}
