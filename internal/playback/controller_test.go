package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/model"
)

type fakePlayer struct {
	mu      sync.Mutex
	calls   []string
	openErr error
	playErr error
	seekErr error
	subs    map[int]chan Event
	next    int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{subs: make(map[int]chan Event)}
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) Open(ctx context.Context, path string) (time.Duration, error) {
	p.record("open " + path)
	p.mu.Lock()
	defer p.mu.Unlock()
	return 0, p.openErr
}

func (p *fakePlayer) Play(ctx context.Context) error {
	p.record("play")
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playErr
}

func (p *fakePlayer) Pause(ctx context.Context) error {
	p.record("pause")
	return nil
}

func (p *fakePlayer) Seek(ctx context.Context, pos time.Duration) error {
	p.record(fmt.Sprintf("seek %s", pos))
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekErr
}

func (p *fakePlayer) Stop(ctx context.Context) error {
	p.record("stop")
	return nil
}

func (p *fakePlayer) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	ch := make(chan Event, 16)
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

func (p *fakePlayer) emit(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		ch <- ev
	}
}

func (p *fakePlayer) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

type completionCounter struct{ n atomic.Int32 }

func (c *completionCounter) PlaybackCompleted() { c.n.Add(1) }

type fixture struct {
	ctrl   *Controller
	player *fakePlayer
	fs     afero.Fs
	done   *completionCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := afero.NewMemMapFs()
	f := &fixture{player: newFakePlayer(), fs: mem, done: &completionCounter{}}
	f.ctrl = NewController(Config{}, f.player, fsys.New(mem, "/home/me/Documents"), f.done)
	t.Cleanup(func() { f.ctrl.Close(context.Background()) })
	return f
}

func (f *fixture) recording(t *testing.T, id string, d time.Duration) *model.Recording {
	t.Helper()
	path := "/home/me/Documents/MemoCapture/f1/" + id + ".wav"
	require.NoError(t, afero.WriteFile(f.fs, path, []byte("RIFF"), 0o644))
	return &model.Recording{ID: id, FilePath: path, FolderID: "f1", Duration: d, FileSizeBytes: 4}
}

func (f *fixture) waitFor(t *testing.T, cond func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.ctrl.State()) }, time.Second, time.Millisecond)
}

func TestExpandIsExclusiveAndToggles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.recording(t, "a", time.Minute)
	b := f.recording(t, "b", 2*time.Minute)

	st, err := f.ctrl.Expand(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "a", st.ExpandedID)
	assert.Equal(t, time.Minute, st.Duration)
	assert.False(t, st.IsLoading)

	st, err = f.ctrl.Expand(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "b", st.ExpandedID)
	assert.Equal(t, 2*time.Minute, st.Duration)
	assert.Contains(t, f.player.Calls(), "stop")
	assert.Equal(t, 1, f.player.subscribers())

	st, err = f.ctrl.Expand(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, State{}, st)
	assert.Equal(t, 0, f.player.subscribers())
}

func TestConcurrentExpandsLeaveOneExpanded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := []*model.Recording{
		f.recording(t, "a", time.Minute),
		f.recording(t, "b", time.Minute),
		f.recording(t, "c", time.Minute),
	}

	var wg sync.WaitGroup
	for _, r := range recs {
		wg.Add(1)
		go func(r *model.Recording) {
			defer wg.Done()
			_, _ = f.ctrl.Expand(ctx, r)
		}(r)
	}
	wg.Wait()

	st := f.ctrl.State()
	assert.NotEmpty(t, st.ExpandedID)
	assert.Equal(t, 1, f.player.subscribers())
}

func TestCompletionFiresOncePerCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := 100 * time.Second
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", d))
	require.NoError(t, err)
	_, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)

	f.player.emit(Event{Kind: EventPosition, Position: 50 * time.Second})
	f.waitFor(t, func(s State) bool { return s.Position == 50*time.Second })

	f.player.emit(Event{Kind: EventPosition, Position: 98 * time.Second})
	f.waitFor(t, func(s State) bool { return s.Position == 98*time.Second })
	assert.True(t, f.ctrl.State().IsPlaying)

	f.player.emit(Event{Kind: EventPosition, Position: 99 * time.Second})
	f.player.emit(Event{Kind: EventPosition, Position: 99500 * time.Millisecond})
	f.waitFor(t, func(s State) bool { return s.HasCompleted })
	require.Eventually(t, func() bool { return contains(f.player.Calls(), "seek 0s") }, time.Second, time.Millisecond)

	st := f.ctrl.State()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, time.Duration(0), st.Position)
	assert.Equal(t, int32(1), f.done.n.Load())

	_, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)
	f.player.emit(Event{Kind: EventPosition, Position: 99 * time.Second})
	require.Eventually(t, func() bool { return f.done.n.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEngineCompletedStateEndsCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", 10*time.Second))
	require.NoError(t, err)
	_, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)

	f.player.emit(Event{Kind: EventState, Processing: ProcessingCompleted})
	f.waitFor(t, func(s State) bool { return s.HasCompleted && !s.IsPlaying })
}

func TestSeekClampsToStoredDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", 60*time.Second))
	require.NoError(t, err)

	st, err := f.ctrl.Seek(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, st.Position)

	st, err = f.ctrl.Seek(ctx, 1.7)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, st.Position)

	st, err = f.ctrl.Seek(ctx, -0.3)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), st.Position)

	st, err = f.ctrl.SkipBackward(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), st.Position)

	_, err = f.ctrl.Seek(ctx, 0.9)
	require.NoError(t, err)
	st, err = f.ctrl.SkipForward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, st.Position)

	st, err = f.ctrl.SkipBackward(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Second, st.Position)
}

func TestToggleFromEndRestarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", 20*time.Second))
	require.NoError(t, err)
	_, err = f.ctrl.Seek(ctx, 1)
	require.NoError(t, err)

	st, err := f.ctrl.Toggle(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, time.Duration(0), st.Position)

	calls := f.player.Calls()
	assert.Equal(t, []string{"seek 20s", "seek 0s", "play"}, calls[len(calls)-3:])

	st, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
}

func TestToggleAfterCompletionRewindsEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", 10*time.Second))
	require.NoError(t, err)
	_, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)

	// hold the op lock so the post-completion rewind cannot run first
	f.ctrl.opMu.Lock()
	f.player.emit(Event{Kind: EventPosition, Position: 10 * time.Second})
	f.waitFor(t, func(s State) bool { return s.HasCompleted })
	f.ctrl.opMu.Unlock()

	st, err := f.ctrl.Toggle(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.False(t, st.HasCompleted)
	calls := f.player.Calls()
	assert.Equal(t, []string{"seek 0s", "play"}, calls[len(calls)-2:])
}

func TestOpenFailureKeepsRecordingExpanded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.player.openErr = errors.New("decoder missing")
	rec := f.recording(t, "a", time.Minute)

	st, err := f.ctrl.Expand(ctx, rec)
	assert.Equal(t, model.KindAudioService, model.KindOf(err))
	assert.Equal(t, "a", st.ExpandedID)
	require.NotNil(t, st.Err)

	f.player.mu.Lock()
	f.player.openErr = nil
	f.player.mu.Unlock()

	st, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	assert.Nil(t, st.Err)
}

func TestPlayFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", time.Minute))
	require.NoError(t, err)
	f.player.mu.Lock()
	f.player.playErr = errors.New("sink gone")
	f.player.mu.Unlock()

	st, err := f.ctrl.Toggle(ctx)
	assert.Equal(t, model.KindAudioService, model.KindOf(err))
	assert.Equal(t, "a", st.ExpandedID)
	assert.False(t, st.IsPlaying)
}

func TestPathRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/home/me/Documents/MemoCapture/f1/moved.wav", []byte("RIFF"), 0o644))

	rec := &model.Recording{ID: "m", FilePath: "/var/old-container/Documents/MemoCapture/f1/moved.wav", Duration: time.Minute}
	st, err := f.ctrl.Expand(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "/home/me/Documents/MemoCapture/f1/moved.wav", st.RecoveredPath)
	assert.Contains(t, f.player.Calls(), "open /home/me/Documents/MemoCapture/f1/moved.wav")

	missing := &model.Recording{ID: "x", FilePath: "/var/old-container/Documents/MemoCapture/f1/gone.wav", Duration: time.Minute}
	st, err = f.ctrl.Expand(ctx, missing)
	assert.Equal(t, model.KindFileNotFound, model.KindOf(err))
	assert.Empty(t, st.ExpandedID)
}

func TestEmptyFileIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/home/me/Documents/empty.wav", nil, 0o644))

	_, err := f.ctrl.Expand(context.Background(), &model.Recording{ID: "e", FilePath: "/home/me/Documents/empty.wav"})
	assert.Equal(t, model.KindFileNotFound, model.KindOf(err))
}

func TestStaleEventsAreIgnoredAfterCollapse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Expand(ctx, f.recording(t, "a", time.Minute))
	require.NoError(t, err)
	_, err = f.ctrl.Toggle(ctx)
	require.NoError(t, err)

	f.ctrl.mu.Lock()
	oldGen := f.ctrl.gen
	f.ctrl.mu.Unlock()

	f.ctrl.Collapse(ctx)
	completed := f.ctrl.handle(oldGen, Event{Kind: EventPosition, Position: time.Minute})
	assert.False(t, completed)
	assert.Equal(t, State{}, f.ctrl.State())
}

func TestOperationsWithoutExpandedRecording(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ctrl.Toggle(ctx)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))
	_, err = f.ctrl.Seek(ctx, 0.5)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))
	assert.Equal(t, State{}, f.ctrl.Collapse(ctx))
}

func TestRemapPath(t *testing.T) {
	tests := []struct {
		stored string
		want   string
		ok     bool
	}{
		{"/var/containers/ABC/Documents/MemoCapture/f1/a.wav", "/home/me/Documents/MemoCapture/f1/a.wav", true},
		{"/a/Documents/b/Documents/c.wav", "/home/me/Documents/b/Documents/c.wav", true},
		{"/var/data/a.wav", "", false},
		{"/var/Documents", "", false},
	}
	for _, tt := range tests {
		got, ok := RemapPath(tt.stored, "Documents", "/home/me/Documents")
		assert.Equal(t, tt.ok, ok, tt.stored)
		assert.Equal(t, tt.want, got, tt.stored)
	}
}

func contains(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}
