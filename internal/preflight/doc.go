// Package preflight provides readiness checks for the directories, binaries
// and remote services Reverie depends on.
//
// The daemon runs RunAll at startup and reports the results in its status;
// the CLI "reverie status" command renders the same results when the daemon
// is not running. Checks for disabled features are skipped.
package preflight
