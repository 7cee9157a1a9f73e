package audio

import (
	"context"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/playback"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestBuildRecordArgs(t *testing.T) {
	cfg := RecorderConfig{Binary: "ffmpeg", Backend: "pulse", Input: "default"}

	tests := []struct {
		name     string
		settings recording.Settings
		codec    []string
	}{
		{"wav", recording.Settings{Format: model.FormatWAV, SampleRate: 48000}, []string{"-c:a", "pcm_s16le"}},
		{"flac", recording.Settings{Format: model.FormatFLAC, SampleRate: 96000}, []string{"-c:a", "flac"}},
		{"m4a", recording.Settings{Format: model.FormatM4A, SampleRate: 44100, BitRate: 192000}, []string{"-c:a", "aac", "-b:a", "192000"}},
		{"m4a default bit rate", recording.Settings{Format: model.FormatM4A, SampleRate: 44100}, []string{"-c:a", "aac", "-b:a", "128000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := BuildRecordArgs(cfg, "/tmp/out."+string(tt.settings.Format), tt.settings)
			require.NoError(t, err)

			joined := strings.Join(args, " ")
			assert.Contains(t, joined, "-f pulse -i default")
			assert.Contains(t, joined, "-ar "+strconv.Itoa(tt.settings.SampleRate))
			assert.Contains(t, joined, strings.Join(tt.codec, " "))
			assert.Equal(t, []string{"-y", "/tmp/out." + string(tt.settings.Format)}, args[len(args)-2:])
		})
	}

	_, err := BuildRecordArgs(cfg, "/tmp/out.ogg", recording.Settings{Format: "ogg", SampleRate: 44100})
	assert.Error(t, err)
}

func TestParseRMSLevel(t *testing.T) {
	level, ok := ParseRMSLevel("lavfi.astats.Overall.RMS_level=-20.000000")
	require.True(t, ok)
	assert.InDelta(t, 0.1, level, 1e-9)

	level, ok = ParseRMSLevel("lavfi.astats.Overall.RMS_level=0.0")
	require.True(t, ok)
	assert.InDelta(t, 1.0, level, 1e-9)

	level, ok = ParseRMSLevel("lavfi.astats.Overall.RMS_level=-inf")
	require.True(t, ok)
	assert.Zero(t, level)

	_, ok = ParseRMSLevel("frame:12 pts:5760 pts_time:0.12")
	assert.False(t, ok)

	_, ok = ParseRMSLevel("lavfi.astats.Overall.RMS_level=garbage")
	assert.False(t, ok)
}

func TestRecorder_AmplitudeFromOutput(t *testing.T) {
	r := NewFFmpegRecorder(RecorderConfig{})
	assert.Zero(t, r.Amplitude())

	r.parseLevel("lavfi.astats.Overall.RMS_level=-6.020600")
	assert.InDelta(t, 0.5, r.Amplitude(), 1e-3)
	assert.False(t, math.IsNaN(r.Amplitude()))
}

func TestRecorder_PauseResumeStop(t *testing.T) {
	requireBinary(t, "sleep")
	ctx := context.Background()

	r := NewFFmpegRecorder(RecorderConfig{})
	require.Error(t, r.Pause(ctx), "pause without a capture")

	proc, err := startProcess("sleep", []string{"30"}, nil)
	require.NoError(t, err)
	r.proc = proc

	require.NoError(t, r.Pause(ctx))
	require.NoError(t, r.Pause(ctx), "pause is idempotent")
	require.NoError(t, r.Resume(ctx))
	require.NoError(t, r.Pause(ctx))

	// stop must wake a suspended process before interrupting it
	require.NoError(t, r.Stop(ctx))
	select {
	case <-proc.Done():
	default:
		t.Fatal("process still running after Stop")
	}
	assert.Error(t, r.Stop(ctx))
}

func TestProcess_StopInterrupts(t *testing.T) {
	requireBinary(t, "sleep")

	proc, err := startProcess("sleep", []string{"30"}, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, proc.stop(context.Background()))
	assert.Less(t, time.Since(start), stopTimeout)
}

func TestProcess_FailureIsReported(t *testing.T) {
	requireBinary(t, "false")

	proc, err := startProcess("false", nil, nil)
	require.NoError(t, err)
	<-proc.Done()
	assert.Error(t, proc.exitResult())
}

func TestProcess_StderrLines(t *testing.T) {
	requireBinary(t, "sh")

	var lines []string
	proc, err := startProcess("sh", []string{"-c", "echo one >&2; echo two >&2"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	<-proc.Done()
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, "one\ntwo\n", proc.Stderr())
}

func TestParseProbeDuration(t *testing.T) {
	d, err := ParseProbeDuration([]byte(`{"format":{"duration":"15.250000"}}`))
	require.NoError(t, err)
	assert.Equal(t, 15250*time.Millisecond, d)

	for _, input := range []string{`{"format":{}}`, `{"format":{"duration":"N/A"}}`, `not json`, `{"format":{"duration":"-1"}}`} {
		_, err := ParseProbeDuration([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestPlayerArgs(t *testing.T) {
	args, err := PlayerArgs("ffplay", "/a.m4a", 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-ss", "1.500", "/a.m4a"}, args)

	args, err = PlayerArgs("mpv", "/a.m4a", 0)
	require.NoError(t, err)
	assert.Contains(t, args, "--start=0.000")

	_, err = PlayerArgs("aplay", "/a.wav", 0)
	assert.Error(t, err)
}

type fixedProber time.Duration

func (p fixedProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return time.Duration(p), nil
}

func sleepPlayer(t *testing.T, seconds string, starts *[]time.Duration) *ProcessPlayer {
	t.Helper()
	requireBinary(t, "sleep")
	player, err := NewProcessPlayer(PlayerConfig{
		TickInterval: 10 * time.Millisecond,
		Command: func(path string, start time.Duration) (string, []string) {
			if starts != nil {
				*starts = append(*starts, start)
			}
			return "sleep", []string{seconds}
		},
	}, fixedProber(2*time.Second), nil)
	require.NoError(t, err)
	return player
}

func waitFor(t *testing.T, events <-chan playback.Event, match func(playback.Event) bool) []playback.Event {
	t.Helper()
	var seen []playback.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev)
			if match(ev) {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out; events so far: %+v", seen)
		}
	}
}

func TestProcessPlayer_CompletesWhenProcessExits(t *testing.T) {
	ctx := context.Background()
	player := sleepPlayer(t, "0.1", nil)
	events, unsubscribe := player.Subscribe()
	defer unsubscribe()

	d, err := player.Open(ctx, "/memo.m4a")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	require.NoError(t, player.Play(ctx))
	seen := waitFor(t, events, func(ev playback.Event) bool {
		return ev.Kind == playback.EventState && ev.Processing == playback.ProcessingCompleted
	})

	last := time.Duration(-1)
	for _, ev := range seen {
		if ev.Kind != playback.EventPosition {
			continue
		}
		assert.GreaterOrEqual(t, ev.Position, last, "positions must not go backwards")
		last = ev.Position
	}
	assert.Equal(t, 2*time.Second, last, "final position is the end of the file")
}

func TestProcessPlayer_PauseAndSeekRestartAtOffset(t *testing.T) {
	ctx := context.Background()
	var starts []time.Duration
	player := sleepPlayer(t, "30", &starts)
	defer player.Stop(ctx)

	_, err := player.Open(ctx, "/memo.m4a")
	require.NoError(t, err)
	require.NoError(t, player.Seek(ctx, 500*time.Millisecond))
	require.NoError(t, player.Play(ctx))
	require.NoError(t, player.Pause(ctx))
	require.NoError(t, player.Seek(ctx, time.Minute))
	require.NoError(t, player.Play(ctx))

	require.Len(t, starts, 2)
	assert.Equal(t, 500*time.Millisecond, starts[0])
	assert.Equal(t, time.Duration(0), starts[1], "seeking to the end and playing restarts")
}

func TestProcessPlayer_RequiresOpen(t *testing.T) {
	player := sleepPlayer(t, "1", nil)
	assert.Error(t, player.Play(context.Background()))
	assert.Error(t, player.Seek(context.Background(), 0))
}
