package recording

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/foldersync"
	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/storage/sqlite"
)

type fakeEngine struct {
	mu        sync.Mutex
	fs        afero.Fs
	path      string
	calls     []string
	startErr  error
	pauseErr  error
	stopErr   error
	amplitude float64
	payload   []byte
}

func (e *fakeEngine) Start(ctx context.Context, path string, settings Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "start")
	if e.startErr != nil {
		return e.startErr
	}
	e.path = path
	return afero.WriteFile(e.fs, path, []byte{}, 0o644)
}

func (e *fakeEngine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "pause")
	return e.pauseErr
}

func (e *fakeEngine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "resume")
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "stop")
	if e.stopErr != nil {
		return e.stopErr
	}
	payload := e.payload
	if payload == nil {
		payload = []byte("RIFF....WAVEfmt ")
	}
	return afero.WriteFile(e.fs, e.path, payload, 0o644)
}

func (e *fakeEngine) Amplitude() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.amplitude
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type fakePermissions struct {
	has, grant bool
	requested  int
	block      chan struct{}

	// checking is signalled and hold awaited inside HasMicrophonePermission
	checking chan struct{}
	hold     chan struct{}
}

func (p *fakePermissions) HasMicrophonePermission(ctx context.Context) (bool, error) {
	if p.checking != nil {
		close(p.checking)
		<-p.hold
	}
	return p.has, nil
}

func (p *fakePermissions) RequestMicrophonePermission(ctx context.Context) (bool, error) {
	p.requested++
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return p.grant, nil
}

type fakeLookup struct {
	name string
	err  error
}

func (l fakeLookup) Lookup(ctx context.Context, lat, lon float64) (string, error) {
	return l.name, l.err
}

type fakeProber struct {
	d   time.Duration
	err error
}

func (p fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return p.d, p.err
}

type countingOutcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *countingOutcomes) RecordingOutcome(outcome string) {
	o.mu.Lock()
	o.seen = append(o.seen, outcome)
	o.mu.Unlock()
}

type harness struct {
	session  *Session
	engine   *fakeEngine
	perms    *fakePermissions
	clock    *clock.Fake
	store    *sqlite.SqliteStorage
	fs       afero.Fs
	outcomes *countingOutcomes
}

var t0 = time.Date(2026, 5, 4, 14, 7, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	store, err := sqlite.NewSqliteStorage(filepath.Join(t.TempDir(), "memo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for _, id := range []string{"f1", "default"} {
		require.NoError(t, store.CreateFolder(context.Background(), &model.Folder{ID: id, Name: id, CreatedAt: t0}))
	}

	mem := afero.NewMemMapFs()
	h := &harness{
		engine:   &fakeEngine{fs: mem},
		perms:    &fakePermissions{has: true, grant: true},
		clock:    clock.NewFake(t0),
		store:    store,
		fs:       mem,
		outcomes: &countingOutcomes{},
	}
	cfg := Config{
		RecordingsRoot:    "/docs/MemoCapture",
		DefaultFolderID:   "default",
		SizeRetries:       2,
		SizeRetryInterval: time.Millisecond,
	}
	ids := 0
	deps := Deps{
		Engine:      h.engine,
		Permissions: h.perms,
		Files:       fsys.New(mem, "/docs"),
		Store:       foldersync.New(store),
		Clock:       h.clock,
		Outcomes:    h.outcomes,
		NewID: func() string {
			ids++
			return "rec-" + string(rune('0'+ids))
		},
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.session = NewSession(cfg, deps)
	return h
}

func (h *harness) folderCount(t *testing.T, id string) int {
	t.Helper()
	f, err := h.store.GetFolder(context.Background(), id)
	require.NoError(t, err)
	return f.RecordingCount
}

func wav44k() Settings {
	return Settings{Format: model.FormatWAV, SampleRate: 44100, BitRate: 128000}
}

func TestLowSampleRateIsRejectedBeforeEngine(t *testing.T) {
	h := newHarness(t, nil)
	err := h.session.Start(context.Background(), Request{
		FolderID: "f1",
		Settings: Settings{Format: model.FormatWAV, SampleRate: 8000},
	})
	assert.Equal(t, model.KindInvalidConfiguration, model.KindOf(err))
	assert.Empty(t, h.engine.Calls())
	assert.IsType(t, Idle{}, h.session.State())
}

func TestFullLifecycleIncrementsFolderCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	require.NoError(t, h.session.Start(ctx, Request{Name: "Team sync", FolderID: "f1", Settings: wav44k()}))
	active, ok := h.session.State().(Active)
	require.True(t, ok)
	assert.Equal(t, "/docs/MemoCapture/f1/Team_sync.wav", active.Path)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.session.Pause(ctx))
	paused, ok := h.session.State().(Paused)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, paused.Elapsed)
	assert.Equal(t, "Team sync", paused.Title)

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.session.Resume(ctx))
	assert.IsType(t, Active{}, h.session.State())

	h.clock.Advance(5 * time.Second)
	rec, err := h.session.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, "f1", rec.FolderID)
	assert.Equal(t, 15*time.Second, rec.Duration)
	assert.Equal(t, "Team sync", rec.Name)
	assert.Positive(t, rec.FileSizeBytes)
	assert.Equal(t, 1, h.folderCount(t, "f1"))
	assert.IsType(t, Completed{}, h.session.State())
	assert.Equal(t, []string{"start", "pause", "resume", "stop"}, h.engine.Calls())

	stored, err := h.store.GetRecordingByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.FilePath, stored.FilePath)
	assert.Equal(t, []string{"completed"}, h.outcomes.seen)
}

func TestSecondStartIsBusy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))

	err := h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()})
	assert.Equal(t, model.KindBusy, model.KindOf(err))

	require.NoError(t, h.session.Cancel(ctx))
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))
}

func TestStartIsBusyWhileFirstStartChecksPermission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.perms.checking = make(chan struct{})
	h.perms.hold = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()})
	}()
	<-h.perms.checking

	second := make(chan error, 1)
	go func() {
		second <- h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()})
	}()
	select {
	case err := <-second:
		assert.Equal(t, model.KindBusy, model.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("second Start waited for the first instead of failing")
	}

	close(h.perms.hold)
	require.NoError(t, <-first)
	assert.IsType(t, Active{}, h.session.State())
	assert.Equal(t, []string{"start"}, h.engine.Calls())
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.perms.has, h.perms.grant = false, false

	err := h.session.Start(context.Background(), Request{FolderID: "f1", Settings: wav44k()})
	assert.Equal(t, model.KindPermissionDenied, model.KindOf(err))
	assert.Equal(t, 1, h.perms.requested)
	failed, ok := h.session.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, model.KindPermissionDenied, failed.Err.Kind)
	assert.Empty(t, h.engine.Calls())
}

func TestPermissionGrantedOnRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.perms.has = false

	require.NoError(t, h.session.Start(context.Background(), Request{FolderID: "f1", Settings: wav44k()}))
	assert.Equal(t, 1, h.perms.requested)
	assert.IsType(t, Active{}, h.session.State())
}

func TestCancelWhileAwaitingPermission(t *testing.T) {
	h := newHarness(t, nil)
	h.perms.has = false
	h.perms.block = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		errc <- h.session.Start(context.Background(), Request{FolderID: "f1", Settings: wav44k()})
	}()
	require.Eventually(t, func() bool {
		_, ok := h.session.State().(AwaitingPermission)
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, h.session.Cancel(context.Background()))
	err := <-errc
	require.Error(t, err)
	assert.IsType(t, Cancelled{}, h.session.State())
	assert.Empty(t, h.engine.Calls())
}

func TestEngineStartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.startErr = errors.New("device busy")

	err := h.session.Start(context.Background(), Request{FolderID: "f1", Settings: wav44k()})
	assert.Equal(t, model.KindAudioService, model.KindOf(err))
	assert.IsType(t, Failed{}, h.session.State())
}

func TestCancelDeletesFileWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.session.Start(ctx, Request{Name: "scratch", FolderID: "f1", Settings: wav44k()}))
	path := h.session.State().(Active).Path

	require.NoError(t, h.session.Cancel(ctx))
	exists, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, h.folderCount(t, "f1"))
	assert.IsType(t, Cancelled{}, h.session.State())

	all, err := h.store.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStopKeepsFileWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.session.Start(ctx, Request{Name: "orphan", FolderID: "f1", Settings: wav44k()}))
	path := h.session.State().(Active).Path

	// closing the store makes the persist step fail
	require.NoError(t, h.store.Close())
	_, err := h.session.Stop(ctx)
	assert.Equal(t, model.KindDatabase, model.KindOf(err))

	exists, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.IsType(t, Failed{}, h.session.State())
}

func TestStopFailsOnEmptyFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.engine.payload = []byte{}
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))

	_, err := h.session.Stop(ctx)
	assert.Equal(t, model.KindFileSystem, model.KindOf(err))
	assert.Equal(t, 0, h.folderCount(t, "f1"))
}

func TestStopUsesProbedDuration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Prober = fakeProber{d: 42 * time.Second}
	})
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))
	h.clock.Advance(40 * time.Second)

	rec, err := h.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, rec.Duration)
}

func TestStopReturnsDurationAsStored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Prober = fakeProber{d: 3*time.Second + 1234567*time.Nanosecond}
	})
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))

	rec, err := h.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3001*time.Millisecond, rec.Duration)

	stored, err := h.store.GetRecordingByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Duration, stored.Duration)
}

func TestEngineFinalizeFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.engine.stopErr = errors.New("ffmpeg exited with status 1")
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))

	_, err := h.session.Stop(ctx)
	assert.Equal(t, model.KindFileSystem, model.KindOf(err))
	assert.IsType(t, Failed{}, h.session.State())
	assert.Equal(t, 0, h.folderCount(t, "f1"))
}

func TestNameFromLocationAndFallback(t *testing.T) {
	ctx := context.Background()
	lat, lon := 48.85, 2.35

	h := newHarness(t, func(_ *Config, d *Deps) { d.Lookup = fakeLookup{name: "Café de Flore"} })
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k(), Latitude: &lat, Longitude: &lon}))
	rec, err := h.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Café de Flore", rec.Name)
	assert.Equal(t, "Café de Flore", rec.LocationName)
	assert.Equal(t, "/docs/MemoCapture/f1/Café_de_Flore.wav", rec.FilePath)

	h = newHarness(t, func(_ *Config, d *Deps) { d.Lookup = fakeLookup{err: errors.New("offline")} })
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k(), Latitude: &lat, Longitude: &lon}))
	rec, err = h.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Recording 2026-05-04 14:07", rec.Name)
	assert.Equal(t, "/docs/MemoCapture/f1/Recording_2026-05-04_1407.wav", rec.FilePath)
}

func TestCollidingNamesGetSuffix(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, afero.WriteFile(h.fs, "/docs/MemoCapture/f1/memo.wav", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/docs/MemoCapture/f1/memo_1.wav", []byte("x"), 0o644))

	require.NoError(t, h.session.Start(ctx, Request{Name: "memo", FolderID: "f1", Settings: wav44k()}))
	assert.Equal(t, "/docs/MemoCapture/f1/memo_2.wav", h.session.State().(Active).Path)
}

func TestDefaultFolderAndReservedFolder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	err := h.session.Start(ctx, Request{FolderID: "recently_deleted", Settings: wav44k()})
	assert.Equal(t, model.KindInvalidConfiguration, model.KindOf(err))

	require.NoError(t, h.session.Start(ctx, Request{Settings: wav44k()}))
	rec, err := h.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", rec.FolderID)
}

func TestPauseAndResumeRequireMatchingPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	assert.Equal(t, model.KindInvalidState, model.KindOf(h.session.Pause(ctx)))
	assert.Equal(t, model.KindInvalidState, model.KindOf(h.session.Resume(ctx)))
	_, err := h.session.Stop(ctx)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))

	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))
	assert.Equal(t, model.KindInvalidState, model.KindOf(h.session.Resume(ctx)))

	h.engine.pauseErr = errors.New("signal failed")
	assert.Equal(t, model.KindAudioService, model.KindOf(h.session.Pause(ctx)))
	assert.IsType(t, Active{}, h.session.State())
}

func TestAmplitudeSampling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *Config, _ *Deps) { c.AmplitudeInterval = 2 * time.Millisecond })
	h.engine.amplitude = 0.5

	ch, unsubscribe := h.session.Subscribe()
	defer unsubscribe()
	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))

	require.Eventually(t, func() bool {
		select {
		case p := <-ch:
			a, ok := p.(Active)
			return ok && a.Amplitude == 0.5
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	require.NoError(t, h.session.Pause(ctx))
	paused := h.session.State().(Paused)
	assert.Equal(t, time.Duration(0), paused.Elapsed)
	assert.Equal(t, "Team sync", paused.Title)
	_, err := h.session.Stop(ctx)
	require.NoError(t, err)
}

func TestSubscribeDeliversLatestPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ch, unsubscribe := h.session.Subscribe()

	require.NoError(t, h.session.Start(ctx, Request{FolderID: "f1", Settings: wav44k()}))
	require.NoError(t, h.session.Pause(ctx))

	p := <-ch
	assert.IsType(t, Paused{}, p)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}
