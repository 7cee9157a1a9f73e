package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

var _ recording.Engine = (*FFmpegRecorder)(nil)

const rmsLevelKey = "lavfi.astats.Overall.RMS_level="

// RecorderConfig selects the ffmpeg capture device.
type RecorderConfig struct {
	Binary  string // ffmpeg executable
	Backend string // ffmpeg input format, e.g. pulse, alsa, jack
	Input   string // device name for the backend
}

// FFmpegRecorder captures audio by running one ffmpeg process per recording.
// Pause and resume suspend the process with SIGSTOP and SIGCONT.
type FFmpegRecorder struct {
	cfg RecorderConfig

	mu     sync.Mutex
	proc   *process
	paused bool

	level atomic.Uint64 // math.Float64bits of the last normalized RMS level
}

// NewFFmpegRecorder creates a recorder with defaults for empty fields.
func NewFFmpegRecorder(cfg RecorderConfig) *FFmpegRecorder {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Backend == "" {
		cfg.Backend = "pulse"
	}
	if cfg.Input == "" {
		cfg.Input = "default"
	}
	return &FFmpegRecorder{cfg: cfg}
}

func (r *FFmpegRecorder) Start(ctx context.Context, path string, settings recording.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		return fmt.Errorf("recorder already running")
	}

	args, err := BuildRecordArgs(r.cfg, path, settings)
	if err != nil {
		return err
	}
	r.level.Store(0)
	proc, err := startProcess(r.cfg.Binary, args, r.parseLevel)
	if err != nil {
		return err
	}
	r.proc = proc
	r.paused = false

	slog.Info("FFmpeg capture started", "path", path, "backend", r.cfg.Backend, "input", r.cfg.Input)
	return nil
}

func (r *FFmpegRecorder) Pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return fmt.Errorf("no recording in progress")
	}
	if r.paused {
		return nil
	}
	if err := r.proc.signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to suspend ffmpeg: %w", err)
	}
	r.paused = true
	r.level.Store(0)
	return nil
}

func (r *FFmpegRecorder) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return fmt.Errorf("no recording in progress")
	}
	if !r.paused {
		return nil
	}
	if err := r.proc.signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume ffmpeg: %w", err)
	}
	r.paused = false
	return nil
}

// Stop interrupts ffmpeg so it writes the container trailer, and waits for it.
func (r *FFmpegRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return fmt.Errorf("no recording in progress")
	}
	proc := r.proc
	r.proc = nil

	if r.paused {
		// a stopped process cannot handle SIGINT
		_ = proc.signal(syscall.SIGCONT)
		r.paused = false
	}
	r.level.Store(0)
	if err := proc.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop FFmpeg: %w", err)
	}
	slog.Debug("FFmpeg capture finished")
	return nil
}

func (r *FFmpegRecorder) Amplitude() float64 {
	return math.Float64frombits(r.level.Load())
}

// Close kills a capture that is still running.
func (r *FFmpegRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		if r.paused {
			_ = r.proc.signal(syscall.SIGCONT)
		}
		r.proc.kill()
		r.proc = nil
	}
	return nil
}

func (r *FFmpegRecorder) parseLevel(line string) {
	if level, ok := ParseRMSLevel(line); ok {
		r.level.Store(math.Float64bits(level))
	}
}

// BuildRecordArgs returns the ffmpeg arguments for one capture.
func BuildRecordArgs(cfg RecorderConfig, path string, settings recording.Settings) ([]string, error) {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "info",
		"-f", cfg.Backend,
		"-i", cfg.Input,
		"-ac", "1",
		"-ar", strconv.Itoa(settings.SampleRate),
		"-af", "astats=metadata=1:reset=1,ametadata=mode=print:key=lavfi.astats.Overall.RMS_level",
	}

	switch settings.Format {
	case model.FormatWAV:
		args = append(args, "-c:a", "pcm_s16le")
	case model.FormatFLAC:
		args = append(args, "-c:a", "flac")
	case model.FormatM4A:
		bitRate := settings.BitRate
		if bitRate == 0 {
			bitRate = recording.DefaultM4ABitRate
		}
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(bitRate))
	default:
		return nil, fmt.Errorf("unsupported format: %s", settings.Format)
	}

	return append(args, "-y", path), nil
}

// ParseRMSLevel extracts the RMS level printed by the ametadata filter and
// converts it from dBFS to a linear value in [0, 1].
func ParseRMSLevel(line string) (float64, bool) {
	i := strings.Index(line, rmsLevelKey)
	if i < 0 {
		return 0, false
	}
	raw := strings.TrimSpace(line[i+len(rmsLevelKey):])
	if raw == "-inf" || raw == "-nan" || raw == "nan" {
		return 0, true
	}
	db, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	level := math.Pow(10, db/20)
	return math.Max(0, math.Min(1, level)), true
}
