// Package mediainfo reads stream metadata from recordings with ffprobe.
//
// Inspect runs ffprobe in JSON mode and returns the first audio stream together
// with the container duration. The pipeline uses it to fill in the duration
// of audio segments that were uploaded without one, which in turn feeds the
// profile's recorded-time counter.
package mediainfo
