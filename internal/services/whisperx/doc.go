// Package whisperx transcribes recorded dream segments locally by running
// WhisperX through uvx. Source audio is first normalized with ffmpeg to a
// mono 16kHz WAV in a scratch directory, and the transcript is read back
// from WhisperX's JSON output.
package whisperx
