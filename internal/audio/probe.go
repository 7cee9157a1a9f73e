package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFProbe reads container durations with ffprobe.
type FFProbe struct {
	Binary string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{Binary: "ffprobe"}
}

func (p *FFProbe) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	return ParseProbeDuration(output)
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbeDuration decodes the JSON printed by
// `ffprobe -show_entries format=duration -of json`.
func ParseProbeDuration(data []byte) (time.Duration, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	raw := strings.TrimSpace(out.Format.Duration)
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
