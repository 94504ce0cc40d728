package mediainfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultBinary is the ffprobe command looked up on PATH.
const DefaultBinary = "ffprobe"

// ErrNoAudio reports a file without any audio stream.
var ErrNoAudio = errors.New("no audio stream")

// Info describes a recording.
type Info struct {
	DurationSeconds float64
	Codec           string
	SampleRate      int
	Channels        int
}

type streamReport struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		CodecType  string `json:"codec_type"`
		Duration   string `json:"duration"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Inspect reads the metadata of path with ffprobe. An empty binary uses DefaultBinary.
func Inspect(ctx context.Context, binary, path string) (Info, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	if strings.TrimSpace(path) == "" {
		return Info{}, errors.New("mediainfo: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-select_streams", "a", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("mediainfo %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("mediainfo %s: %w", path, err)
	}
	return Parse(output)
}

// Parse decodes ffprobe JSON output. The container duration wins over the
// stream duration because some encoders leave the latter empty.
func Parse(data []byte) (Info, error) {
	var out streamReport
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("mediainfo parse: %w", err)
	}
	for _, stream := range out.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		info := Info{
			Codec:           stream.CodecName,
			Channels:        stream.Channels,
			SampleRate:      int(parseSeconds(stream.SampleRate)),
			DurationSeconds: parseSeconds(out.Format.Duration),
		}
		if info.DurationSeconds == 0 {
			info.DurationSeconds = parseSeconds(stream.Duration)
		}
		return info, nil
	}
	return Info{}, ErrNoAudio
}

// Duration returns the length of the recording at path in seconds.
func Duration(ctx context.Context, binary, path string) (float64, error) {
	info, err := Inspect(ctx, binary, path)
	if err != nil {
		return 0, err
	}
	return info.DurationSeconds, nil
}

func parseSeconds(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
