// Package playback keeps at most one recording loaded for playback and
// tracks its position and completion.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/model"
)

const (
	DefaultCompletionThreshold = 0.99
	DefaultSkipStep            = 10 * time.Second
)

// Completions is told about every completed play cycle.
type Completions interface {
	PlaybackCompleted()
}

// Config holds the controller tunables.
type Config struct {
	CompletionThreshold float64
	SkipStep            time.Duration
	Anchor              string
}

// State is a snapshot of the controller.
type State struct {
	ExpandedID    string        `json:"expanded_id,omitempty"`
	Position      time.Duration `json:"position"`
	Duration      time.Duration `json:"duration"`
	IsPlaying     bool          `json:"is_playing"`
	IsLoading     bool          `json:"is_loading"`
	HasCompleted  bool          `json:"has_completed"`
	RecoveredPath string        `json:"recovered_path,omitempty"`
	Err           *model.Error  `json:"error,omitempty"`
}

// Controller owns the single expanded recording.
type Controller struct {
	engine      Engine
	files       fsys.FileSystem
	completions Completions

	// opMu serializes intents against each other.
	opMu sync.Mutex

	mu          sync.Mutex
	cfg         Config
	state       State
	path        string
	opened      bool
	latch       bool
	gen         uint64
	unsubscribe func()
	subs        map[int]chan State
	nextSub     int
}

// NewController creates a controller. completions may be nil.
func NewController(cfg Config, engine Engine, files fsys.FileSystem, completions Completions) *Controller {
	return &Controller{
		cfg:         withDefaults(cfg),
		engine:      engine,
		files:       files,
		completions: completions,
		subs:        make(map[int]chan State),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.CompletionThreshold <= 0 || cfg.CompletionThreshold > 1 {
		cfg.CompletionThreshold = DefaultCompletionThreshold
	}
	if cfg.SkipStep <= 0 {
		cfg.SkipStep = DefaultSkipStep
	}
	if cfg.Anchor == "" {
		cfg.Anchor = DefaultAnchor
	}
	return cfg
}

// SetCompletionThreshold changes the completion threshold for later events.
func (c *Controller) SetCompletionThreshold(threshold float64) {
	c.mu.Lock()
	c.cfg.CompletionThreshold = threshold
	c.cfg = withDefaults(c.cfg)
	c.mu.Unlock()
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsExpanded reports whether id is the expanded recording.
func (c *Controller) IsExpanded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id != "" && c.state.ExpandedID == id
}

// Subscribe returns a channel of state snapshots; slow readers see only
// the latest. The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	offer(ch, c.state)
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Expand loads rec for playback, releasing any previous recording first.
// Expanding the recording that is already expanded collapses it.
func (c *Controller) Expand(ctx context.Context, rec *model.Recording) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.state.ExpandedID
	c.mu.Unlock()

	if current != "" {
		c.release(ctx)
		if current == rec.ID {
			return c.State(), nil
		}
	}

	path, recovered, err := c.resolvePath(ctx, rec.FilePath)
	if err != nil {
		return c.State(), err
	}
	size, err := c.files.Size(ctx, path)
	if err != nil {
		return c.State(), model.E(model.KindFileNotFound, "recording file is unreadable", err)
	}
	if size <= 0 {
		return c.State(), model.Errorf(model.KindFileNotFound, "recording file %s is empty", path)
	}

	st := State{ExpandedID: rec.ID, Duration: rec.Duration, IsLoading: true}
	if recovered {
		st.RecoveredPath = path
	}
	c.mu.Lock()
	c.path = path
	c.latch = false
	c.setStateLocked(st)
	c.mu.Unlock()

	if err := c.open(ctx); err != nil {
		return c.State(), err
	}
	slog.Debug("Recording expanded", "recording_id", rec.ID, "path", path, "recovered", recovered)
	return c.State(), nil
}

// Collapse stops playback and clears the expanded recording.
func (c *Controller) Collapse(ctx context.Context) State {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.release(ctx)
	return c.State()
}

// Toggle pauses when playing and plays otherwise. Playing from the end
// restarts from the beginning.
func (c *Controller) Toggle(ctx context.Context) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	st, opened := c.state, c.opened
	c.mu.Unlock()
	if st.ExpandedID == "" {
		return st, model.Errorf(model.KindInvalidState, "no recording is expanded")
	}
	if !opened {
		if err := c.open(ctx); err != nil {
			return c.State(), err
		}
	}

	if st.IsPlaying {
		if err := c.engine.Pause(ctx); err != nil {
			return c.State(), c.engineFailure("could not pause playback", err)
		}
		c.update(func(s *State) { s.IsPlaying = false; s.Err = nil })
		return c.State(), nil
	}

	// a completed cycle may not have rewound the engine yet
	if st.HasCompleted || (st.Duration > 0 && st.Position >= st.Duration) {
		if err := c.engine.Seek(ctx, 0); err != nil {
			return c.State(), c.engineFailure("could not rewind playback", err)
		}
		c.update(func(s *State) { s.Position = 0 })
	}
	c.mu.Lock()
	c.latch = false
	c.mu.Unlock()
	if err := c.engine.Play(ctx); err != nil {
		return c.State(), c.engineFailure("could not start playback", err)
	}
	c.update(func(s *State) {
		s.IsPlaying = true
		s.HasCompleted = false
		s.Err = nil
	})
	return c.State(), nil
}

// Seek jumps to percent of the recording's stored duration.
func (c *Controller) Seek(ctx context.Context, percent float64) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if math.IsNaN(percent) {
		percent = 0
	}
	percent = math.Max(0, math.Min(1, percent))
	st := c.State()
	return c.seekTo(ctx, time.Duration(percent*float64(st.Duration)))
}

// SkipForward moves the position forward by the skip step.
func (c *Controller) SkipForward(ctx context.Context) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	target := c.state.Position + c.cfg.SkipStep
	c.mu.Unlock()
	return c.seekTo(ctx, target)
}

// SkipBackward moves the position back by the skip step.
func (c *Controller) SkipBackward(ctx context.Context) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	target := c.state.Position - c.cfg.SkipStep
	c.mu.Unlock()
	return c.seekTo(ctx, target)
}

// Close collapses the expanded recording and closes every subscription.
func (c *Controller) Close(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.release(ctx)

	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Controller) seekTo(ctx context.Context, target time.Duration) (State, error) {
	c.mu.Lock()
	st, opened := c.state, c.opened
	c.mu.Unlock()
	if st.ExpandedID == "" || !opened {
		return st, model.Errorf(model.KindInvalidState, "no recording is loaded")
	}

	target = clamp(target, 0, st.Duration)
	if err := c.engine.Seek(ctx, target); err != nil {
		return c.State(), c.engineFailure("could not seek", err)
	}
	c.update(func(s *State) {
		s.Position = target
		s.Err = nil
	})
	return c.State(), nil
}

// open subscribes to the engine and loads the current path. On failure the
// recording stays expanded so the caller can retry.
func (c *Controller) open(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	path := c.path
	prevUnsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if prevUnsub != nil {
		prevUnsub()
	}

	events, unsubscribe := c.engine.Subscribe()
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	go c.consume(gen, events)

	engineDuration, err := c.engine.Open(ctx, path)
	if err != nil {
		e := model.E(model.KindAudioService, "could not open the recording", err)
		c.update(func(s *State) {
			s.IsLoading = false
			s.Err = e
		})
		return e
	}

	c.mu.Lock()
	c.opened = true
	st := c.state
	st.IsLoading = false
	st.Err = nil
	if st.Duration <= 0 {
		st.Duration = engineDuration
	}
	c.setStateLocked(st)
	c.mu.Unlock()
	return nil
}

// release stops the engine and clears all state. Stale events from the
// previous subscription are ignored from here on.
func (c *Controller) release(ctx context.Context) {
	c.mu.Lock()
	if c.state.ExpandedID == "" {
		c.mu.Unlock()
		return
	}
	c.gen++
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	opened := c.opened
	id := c.state.ExpandedID
	c.opened = false
	c.latch = false
	c.path = ""
	c.setStateLocked(State{})
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if opened {
		if err := c.engine.Stop(ctx); err != nil {
			slog.Warn("Player did not stop cleanly", "recording_id", id, "error", err)
		}
	}
	slog.Debug("Recording collapsed", "recording_id", id)
}

func (c *Controller) consume(gen uint64, events <-chan Event) {
	for ev := range events {
		if c.handle(gen, ev) {
			if c.completions != nil {
				c.completions.PlaybackCompleted()
			}
			c.finishCycle(gen)
		}
	}
}

// handle applies one engine event and reports whether it completed the
// current play cycle.
func (c *Controller) handle(gen uint64, ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}

	st := c.state
	switch ev.Kind {
	case EventPosition:
		if !st.IsPlaying {
			return false
		}
		st.Position = clamp(ev.Position, 0, st.Duration)
		if !c.latch && st.Duration > 0 &&
			float64(ev.Position) >= c.cfg.CompletionThreshold*float64(st.Duration) {
			return c.completeLocked()
		}
	case EventDuration:
		if st.Duration <= 0 && ev.Duration > 0 {
			st.Duration = ev.Duration
		}
	case EventState:
		st.IsLoading = ev.Processing == ProcessingLoading
		if ev.Processing == ProcessingCompleted && st.IsPlaying && !c.latch {
			return c.completeLocked()
		}
	}
	c.setStateLocked(st)
	return false
}

// completeLocked latches completion and puts the state back at the start.
// Caller holds mu.
func (c *Controller) completeLocked() bool {
	c.latch = true
	st := c.state
	st.IsPlaying = false
	st.Position = 0
	st.HasCompleted = true
	c.setStateLocked(st)
	return true
}

// finishCycle pauses the engine and rewinds it after a completion.
func (c *Controller) finishCycle(gen uint64) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	// a Toggle that slipped in before us already restarted playback
	stale := gen != c.gen || c.state.IsPlaying
	id := c.state.ExpandedID
	c.mu.Unlock()
	if stale {
		return
	}

	ctx := context.Background()
	if err := c.engine.Pause(ctx); err != nil {
		slog.Warn("Could not pause player after completion", "recording_id", id, "error", err)
	}
	if err := c.engine.Seek(ctx, 0); err != nil {
		slog.Warn("Could not rewind player after completion", "recording_id", id, "error", err)
	}
	slog.Debug("Playback completed", "recording_id", id)
}

func (c *Controller) resolvePath(ctx context.Context, stored string) (string, bool, error) {
	exists, err := c.files.Exists(ctx, stored)
	if err != nil {
		return "", false, model.E(model.KindFileSystem, "could not check the recording file", err)
	}
	if exists {
		return stored, false, nil
	}

	c.mu.Lock()
	anchor := c.cfg.Anchor
	c.mu.Unlock()
	if remapped, ok := RemapPath(stored, anchor, c.files.CurrentDocumentsRoot()); ok && remapped != stored {
		exists, err := c.files.Exists(ctx, remapped)
		if err != nil {
			return "", false, model.E(model.KindFileSystem, "could not check the recording file", err)
		}
		if exists {
			slog.Info("Recovered moved recording path", "from", stored, "to", remapped)
			return remapped, true, nil
		}
	}
	return "", false, model.Errorf(model.KindFileNotFound, "recording file %s not found", stored)
}

func (c *Controller) engineFailure(msg string, err error) *model.Error {
	e := model.E(model.KindAudioService, msg, err)
	c.update(func(s *State) { s.Err = e })
	slog.Warn("Playback engine error", "error", err)
	return e
}

func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	st := c.state
	fn(&st)
	c.setStateLocked(st)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(st State) {
	c.state = st
	for _, ch := range c.subs {
		offer(ch, st)
	}
}

func offer(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d > hi {
		d = hi
	}
	if d < lo {
		d = lo
	}
	return d
}
