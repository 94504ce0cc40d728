// Package logs reads the daemon's run log for `reverie logs`.
//
// Last returns the final lines of a file with bounded memory, and Follow
// polls from an offset and hands each appended line to a callback until the
// context ends. A file that does not exist yet reads as empty so the CLI can
// start following before the daemon writes anything.
package logs
