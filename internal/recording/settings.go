package recording

import (
	"github.com/audiolibrelab/memocapture/internal/model"
)

const (
	MinSampleRate     = 16000
	MinBitRate        = 32000
	MaxBitRate        = 320000
	DefaultM4ABitRate = 128000
)

// maxSampleRate holds the per-format sample rate ceilings.
var maxSampleRate = map[model.Format]int{
	model.FormatWAV:  96000,
	model.FormatFLAC: 192000,
	model.FormatM4A:  48000,
}

// Settings are the capture parameters of one recording attempt.
type Settings struct {
	Format     model.Format `json:"format" mapstructure:"format"`
	SampleRate int          `json:"sample_rate" mapstructure:"sample_rate"`
	BitRate    int          `json:"bit_rate" mapstructure:"bit_rate"`
}

// Normalize validates s and fills format defaults. Every violation is
// reported as InvalidConfiguration.
func (s Settings) Normalize() (Settings, error) {
	ceiling, ok := maxSampleRate[s.Format]
	if !ok {
		return s, model.Errorf(model.KindInvalidConfiguration, "unsupported format %q (valid: wav, m4a, flac)", s.Format)
	}
	if s.SampleRate < MinSampleRate {
		return s, model.Errorf(model.KindInvalidConfiguration,
			"sample rate %d Hz is below the minimum of %d Hz", s.SampleRate, MinSampleRate)
	}
	if s.SampleRate > ceiling {
		return s, model.Errorf(model.KindInvalidConfiguration,
			"sample rate %d Hz exceeds the %s maximum of %d Hz", s.SampleRate, s.Format, ceiling)
	}
	if s.BitRate < 0 {
		return s, model.Errorf(model.KindInvalidConfiguration, "bit rate cannot be negative: %d", s.BitRate)
	}
	if s.Format == model.FormatM4A && s.BitRate == 0 {
		s.BitRate = DefaultM4ABitRate
	}
	if s.BitRate != 0 && (s.BitRate < MinBitRate || s.BitRate > MaxBitRate) {
		return s, model.Errorf(model.KindInvalidConfiguration,
			"bit rate %d is outside [%d, %d]", s.BitRate, MinBitRate, MaxBitRate)
	}
	return s, nil
}
