package whisperx

import "fmt"

// normalizeArgs builds the ffmpeg arguments that convert any recording into
// the mono 16kHz PCM WAV WhisperX expects.
func normalizeArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", fmt.Sprint(16000),
		"-c:a", "pcm_s16le",
		dest,
	}
}
