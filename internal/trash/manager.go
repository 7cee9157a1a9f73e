// Package trash implements soft deletion with time-boxed retention.
package trash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/foldersync"
	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/storage"
)

const (
	DefaultRetention = 15 * 24 * time.Hour
	day              = 24 * time.Hour
)

// Stats receives trash lifecycle counts.
type Stats interface {
	TrashPurged(n int)
	TrashRestored()
}

// Config holds the manager tunables.
type Config struct {
	Retention       time.Duration
	DefaultFolderID string
}

// SweepReport summarizes one expiry sweep.
type SweepReport struct {
	Checked  int                `json:"checked"`
	Purged   []string           `json:"purged"`
	Failures []model.ItemResult `json:"failures,omitempty"`
}

// Manager moves recordings in and out of the trash and purges them.
type Manager struct {
	store storage.Store
	sync  *foldersync.Synchronizer
	files fsys.FileSystem
	clock clock.Clock
	stats Stats

	mu  sync.RWMutex
	cfg Config
}

// NewManager creates a Manager. stats may be nil.
func NewManager(cfg Config, store storage.Store, files fsys.FileSystem, clk clock.Clock, stats Stats) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		store: store,
		sync:  foldersync.New(store),
		files: files,
		clock: clk,
		stats: stats,
		cfg:   cfg,
	}
}

// Retention returns the current retention period.
func (m *Manager) Retention() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Retention
}

// SetRetention changes the retention period; non-positive values are ignored.
func (m *Manager) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.cfg.Retention = d
	m.mu.Unlock()
	slog.Info("Trash retention updated", "retention", d)
}

// List returns the recordings in the trash, oldest deletion first.
func (m *Manager) List(ctx context.Context) ([]*model.Recording, error) {
	recs, err := m.store.ListDeletedRecordings(ctx)
	if err != nil {
		return nil, model.E(model.KindDatabase, "could not list the trash", err)
	}
	return recs, nil
}

// SoftDelete moves a live recording to the trash and decrements its folder
// count in the same transaction.
func (m *Manager) SoftDelete(ctx context.Context, id string) (*model.Recording, error) {
	var out *model.Recording
	err := m.store.RunTransaction(ctx, func(tx storage.Tx) error {
		rec, err := tx.GetRecordingByID(ctx, id)
		if err != nil {
			return err
		}
		if err := m.markDeleted(rec); err != nil {
			return err
		}
		if err := tx.UpdateRecording(ctx, rec); err != nil {
			return fmt.Errorf("update recording: %w", err)
		}
		if origin := model.ParseFolderRef(*rec.OriginalFolderID); origin.IsReal() {
			if err := tx.DecrementFolderCount(ctx, origin.ID()); err != nil {
				slog.Warn("Folder count not decremented on soft delete", "folder_id", origin.ID(), "error", err)
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, boundary(err, id, "could not move the recording to the trash")
	}
	slog.Info("Recording moved to trash", "recording_id", id, "folder_id", *out.OriginalFolderID)
	return out, nil
}

// SoftDeleteMany trashes every id it can. Row changes share one transaction
// and folder counts are recomputed once at the end.
func (m *Manager) SoftDeleteMany(ctx context.Context, ids []string) (*model.BulkResult, error) {
	result := &model.BulkResult{}
	err := m.sync.Apply(ctx, func(tx storage.Tx, touched foldersync.Touched) error {
		for _, id := range ids {
			rec, err := tx.GetRecordingByID(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				result.Fail(id, model.Errorf(model.KindNotFound, "recording %s not found", id))
				continue
			}
			if err != nil {
				return err
			}
			if err := m.markDeleted(rec); err != nil {
				result.Fail(id, err)
				continue
			}
			if err := tx.UpdateRecording(ctx, rec); err != nil {
				return fmt.Errorf("update recording %s: %w", id, err)
			}
			touched.Add(*rec.OriginalFolderID)
			result.Succeed(id)
		}
		return nil
	})
	if err != nil {
		return nil, model.E(model.KindDatabase, "could not move the recordings to the trash", err)
	}
	return result, nil
}

// Restore moves a trashed recording back to its original folder, or to the
// default folder when the original no longer exists.
func (m *Manager) Restore(ctx context.Context, id string) (*model.Recording, error) {
	var out *model.Recording
	err := m.store.RunTransaction(ctx, func(tx storage.Tx) error {
		rec, err := tx.GetRecordingByID(ctx, id)
		if err != nil {
			return err
		}
		if !rec.IsDeleted || rec.OriginalFolderID == nil {
			return model.Errorf(model.KindInvalidState, "recording %s is not in the trash", id)
		}

		target := *rec.OriginalFolderID
		if _, err := tx.GetFolder(ctx, target); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			target, err = m.defaultFolder(ctx, tx)
			if err != nil {
				return err
			}
			slog.Warn("Original folder is gone, restoring to default folder",
				"recording_id", id, "original_folder_id", *rec.OriginalFolderID, "folder_id", target)
		}

		now := m.clock.Now()
		rec.FolderID = target
		rec.IsDeleted = false
		rec.DeletedAt = nil
		rec.OriginalFolderID = nil
		rec.UpdatedAt = &now
		if err := tx.UpdateRecording(ctx, rec); err != nil {
			return fmt.Errorf("update recording: %w", err)
		}
		if err := tx.IncrementFolderCount(ctx, target); err != nil {
			return fmt.Errorf("increment folder %s: %w", target, err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, boundary(err, id, "could not restore the recording")
	}
	if m.stats != nil {
		m.stats.TrashRestored()
	}
	slog.Info("Recording restored", "recording_id", id, "folder_id", out.FolderID)
	return out, nil
}

// PermanentDelete removes the row and then the backing file. The row is the
// authoritative step: a file deletion failure is reported after the row is gone.
func (m *Manager) PermanentDelete(ctx context.Context, id string) error {
	removed, err := m.sync.RecordRemoved(ctx, id)
	if err != nil {
		return err
	}
	if m.stats != nil {
		m.stats.TrashPurged(1)
	}
	if err := m.files.Delete(ctx, removed.FilePath); err != nil {
		slog.Warn("Recording row deleted but file removal failed", "recording_id", id, "path", removed.FilePath, "error", err)
		return model.E(model.KindFileSystem, "the recording was deleted but its file could not be removed", err)
	}
	slog.Info("Recording permanently deleted", "recording_id", id)
	return nil
}

// DaysUntilPermanentDeletion returns the whole days, rounded up, until rec
// becomes eligible for purging, and -1 for a recording not in the trash.
// It never deletes anything.
func (m *Manager) DaysUntilPermanentDeletion(rec *model.Recording) int {
	if !rec.IsDeleted || rec.DeletedAt == nil {
		return -1
	}
	remaining := rec.DeletedAt.Add(m.Retention()).Sub(m.clock.Now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + day - 1) / day)
}

// IsExpired reports whether rec has been in the trash for at least the
// retention period.
func (m *Manager) IsExpired(rec *model.Recording) bool {
	if !rec.IsDeleted || rec.DeletedAt == nil {
		return false
	}
	return m.clock.Now().Sub(*rec.DeletedAt) >= m.Retention()
}

// Sweep purges every expired recording. Running it again right away finds
// nothing to do.
func (m *Manager) Sweep(ctx context.Context) (*SweepReport, error) {
	recs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{Checked: len(recs), Purged: []string{}}
	for _, rec := range recs {
		if !m.IsExpired(rec) {
			continue
		}
		if err := m.PermanentDelete(ctx, rec.ID); err != nil {
			e := model.Wrap(err).(*model.Error)
			report.Failures = append(report.Failures, model.ItemResult{ID: rec.ID, Err: e})
			if e.Kind != model.KindFileSystem {
				continue
			}
		}
		report.Purged = append(report.Purged, rec.ID)
	}
	if len(report.Purged) > 0 || len(report.Failures) > 0 {
		slog.Info("Trash sweep finished", "checked", report.Checked, "purged", len(report.Purged), "failed", len(report.Failures))
	}
	return report, nil
}

// EmptyTrash permanently deletes everything in the trash.
func (m *Manager) EmptyTrash(ctx context.Context) (*model.BulkResult, error) {
	recs, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	result := &model.BulkResult{}
	for _, rec := range recs {
		if err := m.PermanentDelete(ctx, rec.ID); err != nil {
			result.Fail(rec.ID, model.Wrap(err).(*model.Error))
			continue
		}
		result.Succeed(rec.ID)
	}
	return result, nil
}

func (m *Manager) markDeleted(rec *model.Recording) *model.Error {
	if rec.IsDeleted {
		return model.Errorf(model.KindInvalidState, "recording %s is already in the trash", rec.ID)
	}
	now := m.clock.Now()
	origin := rec.FolderID
	rec.OriginalFolderID = &origin
	rec.FolderID = model.TrashFolder.ID()
	rec.IsDeleted = true
	rec.DeletedAt = &now
	rec.UpdatedAt = &now
	return nil
}

// defaultFolder returns the default folder id, creating the folder if needed.
func (m *Manager) defaultFolder(ctx context.Context, tx storage.Tx) (string, error) {
	m.mu.RLock()
	id := m.cfg.DefaultFolderID
	m.mu.RUnlock()
	if id == "" {
		return "", model.Errorf(model.KindInvalidConfiguration, "no default folder is configured")
	}
	_, err := tx.GetFolder(ctx, id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	n, err := tx.CountActiveRecordings(ctx, id)
	if err != nil {
		return "", err
	}
	if err := tx.CreateFolder(ctx, &model.Folder{ID: id, Name: id, RecordingCount: n, CreatedAt: m.clock.Now()}); err != nil {
		return "", fmt.Errorf("create default folder: %w", err)
	}
	return id, nil
}

// boundary converts a transaction error into a typed error.
func boundary(err error, id, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.Errorf(model.KindNotFound, "recording %s not found", id)
	}
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}
	return model.E(model.KindDatabase, msg, err)
}
