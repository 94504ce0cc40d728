// Package daemonctl starts and stops a background reverie daemon for the CLI.
//
// Start launches `reverie daemon` as a detached process and waits until its
// API answers. Stop asks the process to exit with SIGTERM, waits for the API
// to go away and falls back to SIGKILL after a grace period. Both use the
// daemon's status endpoint as the source of truth and the pid file only as a
// fallback.
package daemonctl
