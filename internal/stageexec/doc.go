// Package stageexec wraps a unit of claimed pipeline work with heartbeat
// refreshes, uniform start/complete/failure logging and failure
// notifications. Claiming and persisting the outcome stay with the caller.
package stageexec
