package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/storage"
)

// newTestStore creates a temporary on-disk SQLite database with schema applied.
func newTestStore(t *testing.T) *SqliteStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.db")
	s, err := NewSqliteStorage(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecording(id, folder string) *model.Recording {
	lat, lon := 48.85, 2.35
	return &model.Recording{
		ID:            id,
		Name:          "Standup notes",
		FilePath:      "/tmp/" + id + ".m4a",
		FolderID:      folder,
		Format:        model.FormatM4A,
		Duration:      90 * time.Second,
		FileSizeBytes: 4096,
		SampleRate:    44100,
		BitRate:       128000,
		Latitude:      &lat,
		Longitude:     &lon,
		LocationName:  "Paris",
		CreatedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Tags:          []string{"work", "daily"},
	}
}

func TestRecordingCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := sampleRecording("r1", "f1")
	require.NoError(t, s.CreateRecording(ctx, rec))

	got, err := s.GetRecordingByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Standup notes", got.Name)
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, []string{"daily", "work"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 48.85, *got.Latitude, 1e-9)
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, got.OriginalFolderID)

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orig := "f1"
	got.IsFavorite = true
	got.IsDeleted = true
	got.DeletedAt = &now
	got.OriginalFolderID = &orig
	got.FolderID = model.TrashFolder.ID()
	got.UpdatedAt = &now
	require.NoError(t, s.UpdateRecording(ctx, got))

	again, err := s.GetRecordingByID(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, again.IsFavorite)
	assert.True(t, again.IsDeleted)
	require.NotNil(t, again.OriginalFolderID)
	assert.Equal(t, "f1", *again.OriginalFolderID)

	deleted, err := s.ListDeletedRecordings(ctx)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	live, err := s.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	require.NoError(t, s.DeleteRecording(ctx, "r1"))
	_, err = s.GetRecordingByID(ctx, "r1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteRecording(ctx, "r1"), storage.ErrNotFound))
}

func TestCreateRecordingRejectsBrokenInvariants(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecording("r1", "f1")
	rec.IsDeleted = true
	assert.Error(t, s.CreateRecording(context.Background(), rec))
}

func TestFolderCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateFolder(ctx, &model.Folder{ID: "f1", Name: "Work", CreatedAt: time.Now()}))
	require.NoError(t, s.IncrementFolderCount(ctx, "f1"))
	require.NoError(t, s.IncrementFolderCount(ctx, "f1"))
	require.NoError(t, s.DecrementFolderCount(ctx, "f1"))

	f, err := s.GetFolder(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.RecordingCount)

	require.NoError(t, s.SetFolderCount(ctx, "f1", 0))
	require.NoError(t, s.DecrementFolderCount(ctx, "f1"))
	f, err = s.GetFolder(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.RecordingCount, "count must not go negative")

	assert.True(t, errors.Is(s.IncrementFolderCount(ctx, "missing"), storage.ErrNotFound))
}

func TestRunTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateFolder(ctx, &model.Folder{ID: "f1", Name: "Work", CreatedAt: time.Now()}))

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRecording(ctx, sampleRecording("r1", "f1")); err != nil {
			return err
		}
		if err := tx.IncrementFolderCount(ctx, "f1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRecordingByID(ctx, "r1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	f, err := s.GetFolder(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.RecordingCount)

	n, err := s.CountActiveRecordings(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
