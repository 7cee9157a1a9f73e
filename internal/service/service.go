package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/foldersync"
	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/playback"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/storage"
	"github.com/audiolibrelab/memocapture/internal/trash"
)

// Service is the MemoCapture application surface used by the CLI and the
// HTTP server. Every error it returns is a *model.Error.
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, req StartRequest) error
	PauseRecording(ctx context.Context) error
	ResumeRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*model.Recording, error)
	CancelRecording(ctx context.Context) error
	RecordingState() recording.Phase
	SubscribeRecording() (<-chan recording.Phase, func())

	// Playback operations
	Expand(ctx context.Context, id string) (playback.State, error)
	Collapse(ctx context.Context) playback.State
	TogglePlayback(ctx context.Context) (playback.State, error)
	Seek(ctx context.Context, percent float64) (playback.State, error)
	SkipForward(ctx context.Context) (playback.State, error)
	SkipBackward(ctx context.Context) (playback.State, error)
	PlaybackState() playback.State
	SubscribePlayback() (<-chan playback.State, func())

	// Library operations
	GetRecording(ctx context.Context, id string) (*model.Recording, error)
	ListRecordings(ctx context.Context, folder model.FolderRef) ([]*model.Recording, error)
	ToggleFavorite(ctx context.Context, id string) (*model.Recording, error)
	SetTags(ctx context.Context, id string, tags []string) (*model.Recording, error)
	MoveRecordings(ctx context.Context, ids []string, folderID string) (*model.BulkResult, error)

	// Trash operations
	DeleteRecording(ctx context.Context, id string) (*model.Recording, error)
	DeleteRecordings(ctx context.Context, ids []string) (*model.BulkResult, error)
	RestoreRecording(ctx context.Context, id string) (*model.Recording, error)
	PermanentlyDelete(ctx context.Context, id string) error
	EmptyTrash(ctx context.Context) (*model.BulkResult, error)
	SweepTrash(ctx context.Context) (*trash.SweepReport, error)
	ListTrash(ctx context.Context) ([]TrashEntry, error)

	// Folder operations
	CreateFolder(ctx context.Context, name string) (*model.Folder, error)
	ListFolders(ctx context.Context) ([]*model.Folder, error)
	ReconcileFolders(ctx context.Context) error

	// Runtime tunables
	ApplySettings(s Tunables)
	HealthCheck(ctx context.Context) error
	GetLastError() string
	Close(ctx context.Context)
}

// StartRequest asks for a new recording. Zero fields fall back to the
// configured defaults.
type StartRequest struct {
	Name       string   `json:"name,omitempty"`
	FolderID   string   `json:"folder_id,omitempty"`
	Format     string   `json:"format,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	BitRate    int      `json:"bit_rate,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// TrashEntry is a trashed recording with the days left before it is purged.
type TrashEntry struct {
	*model.Recording
	DaysRemaining int `json:"days_remaining"`
}

// Tunables are the settings that can change while running.
type Tunables struct {
	Retention           time.Duration
	CompletionThreshold float64
}

// Config holds the service defaults.
type Config struct {
	DefaultFolderID string
	DefaultSettings recording.Settings
}

// Deps are the components the service coordinates.
type Deps struct {
	Store    storage.Store
	Session  *recording.Session
	Playback *playback.Controller
	Trash    *trash.Manager
	Clock    clock.Clock
}

// MemoCaptureService is the main service implementation.
type MemoCaptureService struct {
	cfg      Config
	store    storage.Store
	sync     *foldersync.Synchronizer
	session  *recording.Session
	playback *playback.Controller
	trash    *trash.Manager
	clock    clock.Clock

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*MemoCaptureService)(nil)

func New(cfg Config, deps Deps) *MemoCaptureService {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	return &MemoCaptureService{
		cfg:      cfg,
		store:    deps.Store,
		sync:     foldersync.New(deps.Store),
		session:  deps.Session,
		playback: deps.Playback,
		trash:    deps.Trash,
		clock:    deps.Clock,
	}
}

// StartRecording validates the request against the target folder and starts
// a recording attempt.
func (s *MemoCaptureService) StartRecording(ctx context.Context, req StartRequest) error {
	slog.Debug("Service.StartRecording called", "name", req.Name, "folder_id", req.FolderID)
	settings := s.cfg.DefaultSettings
	if req.Format != "" {
		format, err := model.ParseFormat(req.Format)
		if err != nil {
			return s.track(model.E(model.KindInvalidConfiguration, err.Error(), nil))
		}
		settings.Format = format
		if req.BitRate == 0 {
			settings.BitRate = 0
		}
	}
	if req.SampleRate != 0 {
		settings.SampleRate = req.SampleRate
	}
	if req.BitRate != 0 {
		settings.BitRate = req.BitRate
	}

	folderID := strings.TrimSpace(req.FolderID)
	if folderID != "" && !model.IsReservedFolderID(folderID) {
		if _, err := s.store.GetFolder(ctx, folderID); err != nil {
			return s.track(notFoundOr(err, "folder "+folderID, "could not look up the folder"))
		}
	}

	err := s.session.Start(ctx, recording.Request{
		Name:      req.Name,
		FolderID:  folderID,
		Settings:  settings,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err == nil {
		s.clearLastError()
	}
	return s.track(err)
}

func (s *MemoCaptureService) PauseRecording(ctx context.Context) error {
	return s.track(s.session.Pause(ctx))
}

func (s *MemoCaptureService) ResumeRecording(ctx context.Context) error {
	return s.track(s.session.Resume(ctx))
}

func (s *MemoCaptureService) StopRecording(ctx context.Context) (*model.Recording, error) {
	rec, err := s.session.Stop(ctx)
	if err != nil {
		return nil, s.track(err)
	}
	s.clearLastError()
	return rec, nil
}

func (s *MemoCaptureService) CancelRecording(ctx context.Context) error {
	return s.track(s.session.Cancel(ctx))
}

func (s *MemoCaptureService) RecordingState() recording.Phase {
	return s.session.State()
}

func (s *MemoCaptureService) SubscribeRecording() (<-chan recording.Phase, func()) {
	return s.session.Subscribe()
}

// Expand loads a recording for playback. When the file had to be found under
// the current documents root, the corrected path is written back.
func (s *MemoCaptureService) Expand(ctx context.Context, id string) (playback.State, error) {
	rec, err := s.GetRecording(ctx, id)
	if err != nil {
		return s.playback.State(), err
	}
	st, err := s.playback.Expand(ctx, rec)
	if st.RecoveredPath != "" && st.ExpandedID == rec.ID && st.RecoveredPath != rec.FilePath {
		rec.FilePath = st.RecoveredPath
		if uerr := s.store.UpdateRecording(ctx, rec); uerr != nil {
			slog.Warn("Could not persist recovered path", "recording_id", id, "path", st.RecoveredPath, "error", uerr)
		} else {
			slog.Info("Recording path recovered", "recording_id", id, "path", st.RecoveredPath)
		}
	}
	return st, s.track(err)
}

func (s *MemoCaptureService) Collapse(ctx context.Context) playback.State {
	return s.playback.Collapse(ctx)
}

func (s *MemoCaptureService) TogglePlayback(ctx context.Context) (playback.State, error) {
	st, err := s.playback.Toggle(ctx)
	return st, s.track(err)
}

func (s *MemoCaptureService) Seek(ctx context.Context, percent float64) (playback.State, error) {
	st, err := s.playback.Seek(ctx, percent)
	return st, s.track(err)
}

func (s *MemoCaptureService) SkipForward(ctx context.Context) (playback.State, error) {
	st, err := s.playback.SkipForward(ctx)
	return st, s.track(err)
}

func (s *MemoCaptureService) SkipBackward(ctx context.Context) (playback.State, error) {
	st, err := s.playback.SkipBackward(ctx)
	return st, s.track(err)
}

func (s *MemoCaptureService) PlaybackState() playback.State {
	return s.playback.State()
}

func (s *MemoCaptureService) SubscribePlayback() (<-chan playback.State, func()) {
	return s.playback.Subscribe()
}

func (s *MemoCaptureService) GetRecording(ctx context.Context, id string) (*model.Recording, error) {
	rec, err := s.store.GetRecordingByID(ctx, id)
	if err != nil {
		return nil, s.track(notFoundOr(err, "recording "+id, "could not load the recording"))
	}
	return rec, nil
}

// ListRecordings lists one folder or one of the computed views.
func (s *MemoCaptureService) ListRecordings(ctx context.Context, folder model.FolderRef) ([]*model.Recording, error) {
	var (
		recs []*model.Recording
		err  error
	)
	switch folder.Kind {
	case model.FolderAll:
		recs, err = s.store.ListRecordings(ctx)
	case model.FolderTrash:
		return s.trash.List(ctx)
	default:
		if _, ferr := s.store.GetFolder(ctx, folder.ID()); ferr != nil {
			return nil, s.track(notFoundOr(ferr, "folder "+folder.ID(), "could not look up the folder"))
		}
		recs, err = s.store.GetRecordingsByFolder(ctx, folder.ID())
	}
	if err != nil {
		return nil, s.track(model.E(model.KindDatabase, "could not list recordings", err))
	}
	return recs, nil
}

func (s *MemoCaptureService) ToggleFavorite(ctx context.Context, id string) (*model.Recording, error) {
	return s.modify(ctx, id, func(rec *model.Recording) {
		rec.IsFavorite = !rec.IsFavorite
	})
}

func (s *MemoCaptureService) SetTags(ctx context.Context, id string, tags []string) (*model.Recording, error) {
	return s.modify(ctx, id, func(rec *model.Recording) {
		rec.Tags = model.NormalizeTags(tags)
	})
}

func (s *MemoCaptureService) MoveRecordings(ctx context.Context, ids []string, folderID string) (*model.BulkResult, error) {
	result, err := s.sync.MoveMany(ctx, ids, model.ParseFolderRef(strings.TrimSpace(folderID)))
	if err != nil {
		return nil, s.track(err)
	}
	return result, nil
}

// DeleteRecording moves a recording to the trash, collapsing it first if it
// is the one loaded for playback.
func (s *MemoCaptureService) DeleteRecording(ctx context.Context, id string) (*model.Recording, error) {
	s.collapseIf(ctx, id)
	rec, err := s.trash.SoftDelete(ctx, id)
	if err != nil {
		return nil, s.track(err)
	}
	return rec, nil
}

func (s *MemoCaptureService) DeleteRecordings(ctx context.Context, ids []string) (*model.BulkResult, error) {
	s.collapseIf(ctx, ids...)
	result, err := s.trash.SoftDeleteMany(ctx, ids)
	if err != nil {
		return nil, s.track(err)
	}
	return result, nil
}

func (s *MemoCaptureService) RestoreRecording(ctx context.Context, id string) (*model.Recording, error) {
	rec, err := s.trash.Restore(ctx, id)
	if err != nil {
		return nil, s.track(err)
	}
	return rec, nil
}

func (s *MemoCaptureService) PermanentlyDelete(ctx context.Context, id string) error {
	rec, err := s.GetRecording(ctx, id)
	if err != nil {
		return err
	}
	s.collapseIf(ctx, rec.ID)
	return s.track(s.trash.PermanentDelete(ctx, id))
}

func (s *MemoCaptureService) EmptyTrash(ctx context.Context) (*model.BulkResult, error) {
	if expanded := s.playback.State().ExpandedID; expanded != "" {
		if rec, err := s.store.GetRecordingByID(ctx, expanded); err == nil && rec.IsDeleted {
			s.collapseIf(ctx, expanded)
		}
	}
	result, err := s.trash.EmptyTrash(ctx)
	if err != nil {
		return nil, s.track(err)
	}
	return result, nil
}

func (s *MemoCaptureService) SweepTrash(ctx context.Context) (*trash.SweepReport, error) {
	if expanded := s.playback.State().ExpandedID; expanded != "" {
		if rec, err := s.store.GetRecordingByID(ctx, expanded); err == nil && s.trash.IsExpired(rec) {
			s.collapseIf(ctx, expanded)
		}
	}
	report, err := s.trash.Sweep(ctx)
	if err != nil {
		return nil, s.track(err)
	}
	return report, nil
}

func (s *MemoCaptureService) ListTrash(ctx context.Context) ([]TrashEntry, error) {
	recs, err := s.trash.List(ctx)
	if err != nil {
		return nil, s.track(err)
	}
	entries := make([]TrashEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, TrashEntry{Recording: rec, DaysRemaining: s.trash.DaysUntilPermanentDeletion(rec)})
	}
	return entries, nil
}

// CreateFolder creates a user folder with a generated id.
func (s *MemoCaptureService) CreateFolder(ctx context.Context, name string) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.track(model.Errorf(model.KindInvalidConfiguration, "folder name is required"))
	}
	folder := &model.Folder{ID: uuid.NewString(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.sync.EnsureFolder(ctx, folder); err != nil {
		return nil, s.track(err)
	}
	slog.Info("Folder created", "folder_id", folder.ID, "name", name)
	return folder, nil
}

func (s *MemoCaptureService) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return nil, s.track(model.E(model.KindDatabase, "could not list folders", err))
	}
	return folders, nil
}

func (s *MemoCaptureService) ReconcileFolders(ctx context.Context) error {
	return s.track(s.sync.Reconcile(ctx))
}

// ApplySettings updates the hot-reloadable tunables. Zero values are ignored.
func (s *MemoCaptureService) ApplySettings(t Tunables) {
	if t.Retention > 0 {
		s.trash.SetRetention(t.Retention)
	}
	if t.CompletionThreshold > 0 {
		s.playback.SetCompletionThreshold(t.CompletionThreshold)
	}
}

// Close cancels an unfinished recording and releases playback.
func (s *MemoCaptureService) Close(ctx context.Context) {
	switch s.session.State().(type) {
	case recording.Idle, recording.Completed, recording.Cancelled, recording.Failed:
	default:
		if err := s.session.Cancel(ctx); err != nil {
			slog.Warn("Could not cancel recording on shutdown", "error", err)
		}
	}
	s.playback.Close(ctx)
}

// HealthCheck reports whether the database answers.
func (s *MemoCaptureService) HealthCheck(ctx context.Context) error {
	if err := s.store.HealthCheck(ctx); err != nil {
		return model.E(model.KindDatabase, "database is unavailable", err)
	}
	return nil
}

// GetLastError returns the last error message
func (s *MemoCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// track records err as the last error and returns it as a *model.Error.
func (s *MemoCaptureService) track(err error) error {
	if err == nil {
		return nil
	}
	err = model.Wrap(err)
	s.lastErrorMutex.Lock()
	s.lastError = err.(*model.Error).UserMessage()
	s.lastErrorMutex.Unlock()
	slog.Debug("Service operation failed", "kind", model.KindOf(err), "error", err)
	return err
}

func (s *MemoCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	s.lastError = ""
	s.lastErrorMutex.Unlock()
}

func (s *MemoCaptureService) collapseIf(ctx context.Context, ids ...string) {
	expanded := s.playback.State().ExpandedID
	if expanded == "" {
		return
	}
	for _, id := range ids {
		if id == expanded {
			s.playback.Collapse(ctx)
			return
		}
	}
}

func (s *MemoCaptureService) modify(ctx context.Context, id string, fn func(rec *model.Recording)) (*model.Recording, error) {
	rec, err := s.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(rec)
	now := s.clock.Now()
	rec.UpdatedAt = &now
	if err := s.store.UpdateRecording(ctx, rec); err != nil {
		return nil, s.track(notFoundOr(err, "recording "+id, "could not update the recording"))
	}
	return rec, nil
}

func notFoundOr(err error, what, msg string) *model.Error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.Errorf(model.KindNotFound, "%s not found", what)
	}
	return model.E(model.KindDatabase, msg, err)
}
