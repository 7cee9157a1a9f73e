// Package recording implements the recording session state machine.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/model"
)

// Engine captures audio into a file.
type Engine interface {
	Start(ctx context.Context, path string, settings Settings) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Stop finalizes the file. It must not return before the file is closed.
	Stop(ctx context.Context) error
	// Amplitude returns the latest input level normalized to [0, 1].
	Amplitude() float64
}

// Permissions gates access to the microphone.
type Permissions interface {
	HasMicrophonePermission(ctx context.Context) (bool, error)
	RequestMicrophonePermission(ctx context.Context) (bool, error)
}

// Prober reads the real duration of a finished file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Persister stores a completed recording together with its folder count.
type Persister interface {
	RecordCreated(ctx context.Context, rec *model.Recording) error
}

// Outcomes is notified once per finished attempt with "completed",
// "cancelled" or "failed".
type Outcomes interface {
	RecordingOutcome(outcome string)
}

// Config holds the session tunables.
type Config struct {
	RecordingsRoot    string
	DefaultFolderID   string
	MaxNameLength     int
	AmplitudeInterval time.Duration
	// SizeRetries bounds how often the file size is re-read while the
	// engine is still flushing after stop.
	SizeRetries       uint64
	SizeRetryInterval time.Duration
}

// Deps are the collaborators of a Session. Lookup, Prober and Outcomes may be nil.
type Deps struct {
	Engine      Engine
	Permissions Permissions
	Files       fsys.FileSystem
	Store       Persister
	Clock       clock.Clock
	Lookup      LocationLookup
	Prober      Prober
	Outcomes    Outcomes
	NewID       func() string
}

// Request describes a new recording attempt.
type Request struct {
	Name      string
	FolderID  string
	Settings  Settings
	Latitude  *float64
	Longitude *float64
}

// attempt is the transient state of one recording attempt.
type attempt struct {
	id        string
	name      string
	location  string
	path      string
	folderID  string
	settings  Settings
	lat, lon  *float64
	createdAt time.Time

	elapsed   time.Duration // accumulated before the running segment
	resumedAt time.Time     // zero while paused
	amplitude float64

	stopSampling context.CancelFunc
	samplerDone  chan struct{}
}

// Session owns at most one recording attempt at a time.
type Session struct {
	cfg  Config
	deps Deps

	// opMu serializes intents so no transition races a pending async step.
	opMu sync.Mutex

	mu              sync.Mutex
	phase           Phase
	att             *attempt
	starting        bool
	cancelStart     context.CancelFunc
	cancelRequested bool
	subs            map[int]chan Phase
	nextSub         int
}

var errEmptyFile = errors.New("recording file is empty")

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}
	if cfg.SizeRetries == 0 {
		cfg.SizeRetries = 5
	}
	if cfg.SizeRetryInterval <= 0 {
		cfg.SizeRetryInterval = 50 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Session{
		cfg:   cfg,
		deps:  deps,
		phase: Idle{},
		subs:  make(map[int]chan Phase),
	}
}

// State returns the current phase with an up to date elapsed time.
func (s *Session) State() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.phase.(Active); ok && s.att != nil {
		a.Elapsed = s.elapsedLocked(s.deps.Clock.Now())
		return a
	}
	return s.phase
}

// Subscribe returns a channel of phase snapshots. A slow reader only sees
// the latest snapshot. The returned func unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan Phase, func()) {
	ch := make(chan Phase, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	offer(ch, s.phase)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Start runs a new attempt up to the recording phase. Starting while another
// attempt is in progress fails with Busy.
func (s *Session) Start(ctx context.Context, req Request) error {
	if !s.claimStart() {
		return model.Errorf(model.KindBusy, "a recording is already in progress")
	}
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	settings, err := req.Settings.Normalize()
	if err != nil {
		return err
	}
	folderID := req.FolderID
	if folderID == "" {
		folderID = s.cfg.DefaultFolderID
	}
	if !model.ParseFolderRef(folderID).IsReal() {
		return model.Errorf(model.KindInvalidConfiguration, "cannot record into folder %q", folderID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelStart = cancel
	s.cancelRequested = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelStart = nil
		s.mu.Unlock()
	}()

	granted, err := s.deps.Permissions.HasMicrophonePermission(ctx)
	if err != nil {
		slog.Warn("Could not query microphone permission", "error", err)
	}
	if !granted {
		s.setPhase(AwaitingPermission{FolderID: folderID})
		granted, err = s.deps.Permissions.RequestMicrophonePermission(ctx)
		if s.cancelWasRequested() {
			return s.abortStart("", false)
		}
		if err != nil || !granted {
			return s.fail(model.E(model.KindPermissionDenied, "microphone access was denied", err))
		}
	}
	s.setPhase(Starting{FolderID: folderID, Settings: settings})

	createdAt := s.deps.Clock.Now()
	name, location := resolveName(ctx, req.Name, s.deps.Lookup, req.Latitude, req.Longitude, createdAt)
	dir := filepath.Join(s.cfg.RecordingsRoot, folderID)
	if err := s.deps.Files.MkdirAll(ctx, dir); err != nil {
		return s.fail(model.E(model.KindFileSystem, "could not create the folder directory", err))
	}
	path, err := s.uniquePath(ctx, dir, SanitizeFileName(name, s.cfg.MaxNameLength), settings.Format.Extension())
	if err != nil {
		return s.fail(model.E(model.KindFileSystem, "could not allocate an output file", err))
	}
	if s.cancelWasRequested() {
		return s.abortStart("", false)
	}

	slog.Debug("Starting recording engine", "path", path, "format", settings.Format,
		"sample_rate", settings.SampleRate, "bit_rate", settings.BitRate)
	if err := s.deps.Engine.Start(ctx, path, settings); err != nil {
		if s.cancelWasRequested() {
			return s.abortStart(path, false)
		}
		return s.fail(model.E(model.KindAudioService, "could not start the recorder", err))
	}
	if s.cancelWasRequested() {
		return s.abortStart(path, true)
	}

	att := &attempt{
		id:        s.deps.NewID(),
		name:      name,
		location:  location,
		path:      path,
		folderID:  folderID,
		settings:  settings,
		lat:       req.Latitude,
		lon:       req.Longitude,
		createdAt: createdAt,
		resumedAt: s.deps.Clock.Now(),
	}
	s.mu.Lock()
	s.att = att
	s.setPhaseLocked(att.activePhase(0))
	s.mu.Unlock()
	s.startSampling(att)

	slog.Info("Recording started", "recording_id", att.id, "name", name, "folder_id", folderID)
	return nil
}

// Pause holds the capture. Sampling stops and elapsed time freezes.
func (s *Session) Pause(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	_, ok := s.phase.(Active)
	att := s.att
	s.mu.Unlock()
	if !ok {
		return model.Errorf(model.KindInvalidState, "no active recording to pause")
	}

	s.stopSamplingAndWait(att)
	if err := s.deps.Engine.Pause(ctx); err != nil {
		s.startSampling(att)
		return model.E(model.KindAudioService, "could not pause recording", err)
	}

	s.mu.Lock()
	att.elapsed = s.elapsedLocked(s.deps.Clock.Now())
	att.resumedAt = time.Time{}
	att.amplitude = 0
	s.setPhaseLocked(Paused{
		ID:       att.id,
		Title:    att.name,
		Path:     att.path,
		FolderID: att.folderID,
		Settings: att.settings,
		Elapsed:  att.elapsed,
	})
	s.mu.Unlock()
	slog.Debug("Recording paused", "recording_id", att.id, "elapsed", att.elapsed)
	return nil
}

// Resume continues a paused capture.
func (s *Session) Resume(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	_, ok := s.phase.(Paused)
	att := s.att
	s.mu.Unlock()
	if !ok {
		return model.Errorf(model.KindInvalidState, "no paused recording to resume")
	}

	if err := s.deps.Engine.Resume(ctx); err != nil {
		return model.E(model.KindAudioService, "could not resume recording", err)
	}

	s.mu.Lock()
	att.resumedAt = s.deps.Clock.Now()
	s.setPhaseLocked(att.activePhase(att.elapsed))
	s.mu.Unlock()
	s.startSampling(att)
	slog.Debug("Recording resumed", "recording_id", att.id)
	return nil
}

// Stop finalizes the file and persists the recording. On any failure the
// file stays on disk.
func (s *Session) Stop(ctx context.Context) (*model.Recording, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.phase.(type) {
	case Active, Paused:
	default:
		s.mu.Unlock()
		return nil, model.Errorf(model.KindInvalidState, "no recording to stop")
	}
	att := s.att
	s.mu.Unlock()

	s.stopSamplingAndWait(att)

	s.mu.Lock()
	elapsed := s.elapsedLocked(s.deps.Clock.Now())
	s.setPhaseLocked(Stopping{ID: att.id, Path: att.path, Elapsed: elapsed})
	s.mu.Unlock()

	if err := s.deps.Engine.Stop(ctx); err != nil {
		return nil, s.fail(model.E(model.KindFileSystem, "could not finalize the recording", err))
	}
	size, err := s.readSize(ctx, att.path)
	if err != nil {
		return nil, s.fail(model.E(model.KindFileSystem, "could not read the recorded file", err))
	}

	duration := elapsed
	if s.deps.Prober != nil {
		d, err := s.deps.Prober.Duration(ctx, att.path)
		switch {
		case err != nil:
			slog.Warn("Could not probe recording duration, using elapsed time", "path", att.path, "error", err)
		case d > 0:
			duration = d
		}
	}
	// the store keeps milliseconds
	duration = duration.Truncate(time.Millisecond)

	rec := &model.Recording{
		ID:            att.id,
		Name:          att.name,
		FilePath:      att.path,
		FolderID:      att.folderID,
		Format:        att.settings.Format,
		Duration:      duration,
		FileSizeBytes: size,
		SampleRate:    att.settings.SampleRate,
		BitRate:       att.settings.BitRate,
		Latitude:      att.lat,
		Longitude:     att.lon,
		LocationName:  att.location,
		CreatedAt:     att.createdAt,
		Tags:          []string{},
	}
	if err := s.deps.Store.RecordCreated(ctx, rec); err != nil {
		return nil, s.fail(model.E(model.KindDatabase, "could not save the recording", err))
	}

	s.finish(Completed{Recording: rec.Clone()}, "completed")
	slog.Info("Recording completed", "recording_id", rec.ID, "duration", rec.Duration, "size", rec.FileSizeBytes)
	return rec, nil
}

// Cancel discards the attempt. Engine stop and file deletion failures are
// logged; the attempt always ends Cancelled.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelStart != nil {
		s.cancelRequested = true
		s.cancelStart()
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.phase.(type) {
	case Cancelled:
		s.mu.Unlock()
		return nil
	case Active, Paused:
	default:
		s.mu.Unlock()
		return model.Errorf(model.KindInvalidState, "no recording to cancel")
	}
	att := s.att
	s.mu.Unlock()

	s.stopSamplingAndWait(att)
	if err := s.deps.Engine.Stop(ctx); err != nil {
		slog.Warn("Recorder did not stop cleanly on cancel", "recording_id", att.id, "error", err)
	}
	s.discard(ctx, att.path)
	s.finish(Cancelled{ID: att.id}, "cancelled")
	slog.Info("Recording cancelled", "recording_id", att.id)
	return nil
}

func (s *Session) abortStart(path string, engineStarted bool) error {
	ctx := context.Background()
	if engineStarted {
		if err := s.deps.Engine.Stop(ctx); err != nil {
			slog.Warn("Recorder did not stop cleanly on cancel", "error", err)
		}
	}
	if path != "" {
		s.discard(ctx, path)
	}
	s.finish(Cancelled{}, "cancelled")
	return model.E(model.KindInvalidState, "recording was cancelled before it started", context.Canceled)
}

func (s *Session) discard(ctx context.Context, path string) {
	if err := s.deps.Files.Delete(ctx, path); err != nil {
		slog.Warn("Could not delete cancelled recording file", "path", path, "error", err)
	}
}

func (s *Session) readSize(ctx context.Context, path string) (int64, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.SizeRetryInterval
	exp.Multiplier = 2
	exp.Reset()

	var size int64
	err := backoff.Retry(func() error {
		n, err := s.deps.Files.Size(ctx, path)
		if err != nil {
			return err
		}
		if n <= 0 {
			return errEmptyFile
		}
		size = n
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(exp, s.cfg.SizeRetries), ctx))
	return size, err
}

func (s *Session) uniquePath(ctx context.Context, dir, base, ext string) (string, error) {
	for i := 0; i < 10000; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		candidate := filepath.Join(dir, name+"."+ext)
		exists, err := s.deps.Files.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", base, dir)
}

func (s *Session) startSampling(att *attempt) {
	if s.cfg.AmplitudeInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	att.stopSampling = cancel
	att.samplerDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.AmplitudeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				level := s.deps.Engine.Amplitude()
				s.mu.Lock()
				if _, ok := s.phase.(Active); ok && s.att == att {
					att.amplitude = level
					ph := att.activePhase(s.elapsedLocked(s.deps.Clock.Now()))
					s.setPhaseLocked(ph)
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Session) stopSamplingAndWait(att *attempt) {
	s.mu.Lock()
	cancel, done := att.stopSampling, att.samplerDone
	att.stopSampling, att.samplerDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *attempt) activePhase(elapsed time.Duration) Active {
	return Active{
		ID:        a.id,
		Title:     a.name,
		Path:      a.path,
		FolderID:  a.folderID,
		Settings:  a.settings,
		Elapsed:   elapsed,
		Amplitude: a.amplitude,
	}
}

// elapsedLocked returns the recorded time excluding pauses. Caller holds mu.
func (s *Session) elapsedLocked(now time.Time) time.Duration {
	a := s.att
	if a == nil {
		return 0
	}
	if a.resumedAt.IsZero() {
		return a.elapsed
	}
	return a.elapsed + now.Sub(a.resumedAt)
}

// claimStart reserves the session for one Start call. It fails while another
// Start is running or an attempt is unfinished.
func (s *Session) claimStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting || inProgress(s.phase) {
		return false
	}
	s.starting = true
	return true
}

func (s *Session) cancelWasRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

func (s *Session) fail(e *model.Error) error {
	s.finish(Failed{Err: e}, "failed")
	slog.Error("Recording failed", "kind", e.Kind, "error", e)
	return e
}

func (s *Session) finish(p Phase, outcome string) {
	s.mu.Lock()
	s.att = nil
	s.setPhaseLocked(p)
	s.mu.Unlock()
	if s.deps.Outcomes != nil {
		s.deps.Outcomes.RecordingOutcome(outcome)
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.setPhaseLocked(p)
	s.mu.Unlock()
}

func (s *Session) setPhaseLocked(p Phase) {
	s.phase = p
	for _, ch := range s.subs {
		offer(ch, p)
	}
}

// offer delivers p without blocking, replacing an unread snapshot.
func offer(ch chan Phase, p Phase) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
