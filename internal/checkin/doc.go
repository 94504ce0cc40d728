// Package checkin generates insights for mood check-ins.
//
// A check-in is stored pending and driven in the background through the
// shared retry policy: every failed attempt increments the persisted
// retry_count, and once the ceiling is reached neither the automatic driver
// nor a manual retry will attempt it again.
package checkin
