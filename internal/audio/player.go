package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/playback"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

var _ playback.Engine = (*ProcessPlayer)(nil)

// DefaultTickInterval is how often position events are published while playing.
const DefaultTickInterval = 200 * time.Millisecond

// players in order of preference. Each must be able to start at an offset.
var players = []string{"ffplay", "mpv", "vlc"}

// CommandFunc returns the program and arguments that play path from start.
type CommandFunc func(path string, start time.Duration) (string, []string)

// PlayerConfig configures a ProcessPlayer.
type PlayerConfig struct {
	Player       string // ffplay, mpv or vlc; empty picks the first one installed
	TickInterval time.Duration
	Command      CommandFunc
}

// ProcessPlayer plays a file through an external player process. The
// position is derived from wall time since the process was started; pausing
// kills the process and a later Play restarts it at the saved offset.
type ProcessPlayer struct {
	cfg    PlayerConfig
	prober recording.Prober
	clock  clock.Clock

	mu        sync.Mutex
	path      string
	duration  time.Duration
	position  time.Duration
	startedAt time.Time
	playing   bool
	proc      *process
	stopTick  chan struct{}

	subs map[int]chan playback.Event
	next int
}

// NewProcessPlayer creates a player. prober supplies the duration on Open and
// may be nil.
func NewProcessPlayer(cfg PlayerConfig, prober recording.Prober, clk clock.Clock) (*ProcessPlayer, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Command == nil {
		player := cfg.Player
		if player == "" {
			found, err := findAudioPlayer()
			if err != nil {
				return nil, err
			}
			player = found
		}
		if _, err := PlayerArgs(player, "", 0); err != nil {
			return nil, err
		}
		if _, err := exec.LookPath(player); err != nil {
			return nil, fmt.Errorf("player %s not found in PATH: %w", player, err)
		}
		cfg.Player = player
		cfg.Command = func(path string, start time.Duration) (string, []string) {
			args, _ := PlayerArgs(player, path, start)
			return player, args
		}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ProcessPlayer{
		cfg:    cfg,
		prober: prober,
		clock:  clk,
		subs:   make(map[int]chan playback.Event),
	}, nil
}

func findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

// PlayerArgs builds the command line for a supported player.
func PlayerArgs(player, path string, start time.Duration) ([]string, error) {
	secs := strconv.FormatFloat(start.Seconds(), 'f', 3, 64)
	switch player {
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-ss", secs, path}, nil
	case "mpv":
		return []string{"--no-video", "--really-quiet", "--start=" + secs, path}, nil
	case "vlc":
		return []string{"-I", "dummy", "--play-and-exit", "--start-time=" + secs, path}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *ProcessPlayer) Open(ctx context.Context, path string) (time.Duration, error) {
	p.mu.Lock()
	p.haltLocked()
	p.path = path
	p.position = 0
	p.duration = 0
	p.emitLocked(playback.Event{Kind: playback.EventState, Processing: playback.ProcessingLoading})
	p.mu.Unlock()

	var duration time.Duration
	if p.prober != nil {
		d, err := p.prober.Duration(ctx, path)
		if err != nil {
			slog.Warn("Could not probe duration", "path", path, "error", err)
		} else {
			duration = d
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path != path {
		return 0, fmt.Errorf("open of %s superseded", path)
	}
	p.duration = duration
	if duration > 0 {
		p.emitLocked(playback.Event{Kind: playback.EventDuration, Duration: duration})
	}
	p.emitLocked(playback.Event{Kind: playback.EventState, Processing: playback.ProcessingReady})
	return duration, nil
}

func (p *ProcessPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return fmt.Errorf("no file loaded")
	}
	if p.playing {
		return nil
	}
	if p.duration > 0 && p.position >= p.duration {
		p.position = 0
	}
	return p.launchLocked()
}

func (p *ProcessPlayer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.position = p.currentLocked()
	p.haltLocked()
	p.emitLocked(playback.Event{Kind: playback.EventState, Processing: playback.ProcessingReady})
	return nil
}

func (p *ProcessPlayer) Seek(ctx context.Context, pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return fmt.Errorf("no file loaded")
	}
	if pos < 0 {
		pos = 0
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	wasPlaying := p.playing
	p.haltLocked()
	p.position = pos
	if wasPlaying {
		return p.launchLocked()
	}
	return nil
}

func (p *ProcessPlayer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.path = ""
	p.position = 0
	p.duration = 0
	p.emitLocked(playback.Event{Kind: playback.EventState, Processing: playback.ProcessingIdle})
	return nil
}

// Subscribe returns a buffered event channel. Events are dropped for a
// subscriber whose buffer is full.
func (p *ProcessPlayer) Subscribe() (<-chan playback.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	ch := make(chan playback.Event, 32)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// launchLocked starts the player at p.position. Caller holds mu.
func (p *ProcessPlayer) launchLocked() error {
	name, args := p.cfg.Command(p.path, p.position)
	proc, err := startProcess(name, args, nil)
	if err != nil {
		return err
	}
	p.proc = proc
	p.playing = true
	p.startedAt = p.clock.Now()
	p.stopTick = make(chan struct{})
	p.emitLocked(playback.Event{Kind: playback.EventState, Playing: true, Processing: playback.ProcessingReady})
	go p.tick(proc, p.stopTick)
	go p.watch(proc)
	return nil
}

// haltLocked kills the running process without reporting completion.
// Caller holds mu.
func (p *ProcessPlayer) haltLocked() {
	if p.stopTick != nil {
		close(p.stopTick)
		p.stopTick = nil
	}
	if p.proc != nil {
		proc := p.proc
		p.proc = nil
		proc.kill()
	}
	p.playing = false
}

func (p *ProcessPlayer) currentLocked() time.Duration {
	if !p.playing {
		return p.position
	}
	pos := p.position + p.clock.Now().Sub(p.startedAt)
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *ProcessPlayer) tick(proc *process, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-proc.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.proc == proc {
				p.emitLocked(playback.Event{Kind: playback.EventPosition, Position: p.currentLocked()})
			}
			p.mu.Unlock()
		}
	}
}

// watch reports completion when the player exits on its own.
func (p *ProcessPlayer) watch(proc *process) {
	<-proc.Done()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != proc {
		return
	}
	if err := proc.ExitErr(); err != nil {
		slog.Warn("Player exited with error", "path", p.path, "error", err, "stderr", proc.Stderr())
	}
	end := p.duration
	if end <= 0 {
		end = p.currentLocked()
	}
	if p.stopTick != nil {
		close(p.stopTick)
		p.stopTick = nil
	}
	p.proc = nil
	p.emitLocked(playback.Event{Kind: playback.EventPosition, Position: end})
	p.playing = false
	p.position = end
	p.emitLocked(playback.Event{Kind: playback.EventState, Processing: playback.ProcessingCompleted})
}

// emitLocked delivers ev without blocking. Caller holds mu.
func (p *ProcessPlayer) emitLocked(ev playback.Event) {
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
