// Package notifications pushes pipeline milestones to ntfy.
//
// Components depend only on the Service interface and publish an Event with
// a loose Payload; formatting into a title, body and tags happens here. Each
// event family can be switched off in the [notifications] config section,
// and an empty topic turns the whole service into a no-op.
package notifications
