// Package foldersync keeps folder recording counts consistent with the
// recording rows they summarize.
package foldersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/storage"
)

// Touched collects the folders whose counts a mutation affected.
type Touched map[string]struct{}

// Add records id if it refers to a real folder.
func (t Touched) Add(id string) {
	if model.ParseFolderRef(id).IsReal() {
		t[id] = struct{}{}
	}
}

func (t Touched) sorted() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Synchronizer performs recording mutations together with the folder count
// updates they imply, inside one store transaction.
type Synchronizer struct {
	store storage.Store
}

// New creates a Synchronizer over store.
func New(store storage.Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// RecordCreated persists rec and increments its folder count.
func (s *Synchronizer) RecordCreated(ctx context.Context, rec *model.Recording) error {
	err := s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRecording(ctx, rec); err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		if rec.IsDeleted || !rec.Folder().IsReal() {
			return nil
		}
		if err := tx.IncrementFolderCount(ctx, rec.FolderID); err != nil {
			return fmt.Errorf("increment folder %s: %w", rec.FolderID, err)
		}
		return nil
	})
	if err != nil {
		return model.E(model.KindDatabase, "could not save recording", err)
	}
	slog.Debug("Recording persisted", "recording_id", rec.ID, "folder_id", rec.FolderID)
	return nil
}

// RecordRemoved hard-deletes the row for id and decrements its folder count
// when the recording was live. It returns the removed row.
func (s *Synchronizer) RecordRemoved(ctx context.Context, id string) (*model.Recording, error) {
	var removed *model.Recording
	err := s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		rec, err := tx.GetRecordingByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteRecording(ctx, id); err != nil {
			return fmt.Errorf("delete recording: %w", err)
		}
		removed = rec
		if rec.IsDeleted || !rec.Folder().IsReal() {
			return nil
		}
		if err := tx.DecrementFolderCount(ctx, rec.FolderID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// folder row already gone; nothing to keep in sync
				return nil
			}
			return fmt.Errorf("decrement folder %s: %w", rec.FolderID, err)
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.Errorf(model.KindNotFound, "recording %s not found", id)
	}
	if err != nil {
		return nil, model.E(model.KindDatabase, "could not delete recording", err)
	}
	return removed, nil
}

// Apply runs fn in a transaction and, once every row mutation in fn has been
// applied, recomputes the counts of the touched folders a single time.
func (s *Synchronizer) Apply(ctx context.Context, fn func(tx storage.Tx, touched Touched) error) error {
	return s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		touched := Touched{}
		if err := fn(tx, touched); err != nil {
			return err
		}
		return recompute(ctx, tx, touched.sorted())
	})
}

// Update writes rec and moves a count between folders when its folder or
// deletion state changed relative to the stored row.
func (s *Synchronizer) Update(ctx context.Context, rec *model.Recording) error {
	err := s.Apply(ctx, func(tx storage.Tx, touched Touched) error {
		prev, err := tx.GetRecordingByID(ctx, rec.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateRecording(ctx, rec); err != nil {
			return fmt.Errorf("update recording: %w", err)
		}
		if prev.FolderID != rec.FolderID || prev.IsDeleted != rec.IsDeleted {
			touched.Add(prev.FolderID)
			touched.Add(rec.FolderID)
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return model.Errorf(model.KindNotFound, "recording %s not found", rec.ID)
	}
	if err != nil {
		return model.E(model.KindDatabase, "could not update recording", err)
	}
	return nil
}

// MoveMany moves every live recording in ids to target. Items that cannot be
// moved are reported individually; the rest are committed together.
func (s *Synchronizer) MoveMany(ctx context.Context, ids []string, target model.FolderRef) (*model.BulkResult, error) {
	if !target.IsReal() {
		return nil, model.Errorf(model.KindInvalidConfiguration, "cannot move recordings into %s", target)
	}
	result := &model.BulkResult{}
	err := s.Apply(ctx, func(tx storage.Tx, touched Touched) error {
		if _, err := tx.GetFolder(ctx, target.ID()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.Errorf(model.KindNotFound, "folder %s not found", target.ID())
			}
			return err
		}
		for _, id := range ids {
			rec, err := tx.GetRecordingByID(ctx, id)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				result.Fail(id, model.Errorf(model.KindNotFound, "recording %s not found", id))
				continue
			case err != nil:
				return err
			case rec.IsDeleted:
				result.Fail(id, model.Errorf(model.KindInvalidState, "recording %s is in the trash", id))
				continue
			case rec.FolderID == target.ID():
				result.Succeed(id)
				continue
			}
			touched.Add(rec.FolderID)
			touched.Add(target.ID())
			rec.FolderID = target.ID()
			if err := tx.UpdateRecording(ctx, rec); err != nil {
				return fmt.Errorf("move recording %s: %w", id, err)
			}
			result.Succeed(id)
		}
		return nil
	})
	if err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return nil, me
		}
		return nil, model.E(model.KindDatabase, "could not move recordings", err)
	}
	return result, nil
}

// Reconcile recomputes the count of every folder from the recording rows.
func (s *Synchronizer) Reconcile(ctx context.Context) error {
	err := s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		folders, err := tx.ListFolders(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(folders))
		for _, f := range folders {
			ids = append(ids, f.ID)
		}
		return recompute(ctx, tx, ids)
	})
	if err != nil {
		return model.E(model.KindDatabase, "could not reconcile folder counts", err)
	}
	return nil
}

// EnsureFolder creates the folder if it does not exist yet.
func (s *Synchronizer) EnsureFolder(ctx context.Context, folder *model.Folder) error {
	if model.IsReservedFolderID(folder.ID) {
		return model.Errorf(model.KindInvalidConfiguration, "folder id %q is reserved", folder.ID)
	}
	err := s.store.RunTransaction(ctx, func(tx storage.Tx) error {
		_, err := tx.GetFolder(ctx, folder.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		n, err := tx.CountActiveRecordings(ctx, folder.ID)
		if err != nil {
			return err
		}
		f := *folder
		f.RecordingCount = n
		return tx.CreateFolder(ctx, &f)
	})
	if err != nil {
		return model.E(model.KindDatabase, "could not create folder", err)
	}
	return nil
}

func recompute(ctx context.Context, tx storage.Tx, folderIDs []string) error {
	for _, id := range folderIDs {
		n, err := tx.CountActiveRecordings(ctx, id)
		if err != nil {
			return fmt.Errorf("count folder %s: %w", id, err)
		}
		if err := tx.SetFolderCount(ctx, id, n); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				slog.Warn("Skipping count for unknown folder", "folder_id", id)
				continue
			}
			return fmt.Errorf("set folder %s count: %w", id, err)
		}
	}
	return nil
}
