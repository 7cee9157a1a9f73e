// Package storage defines the persistence contract for recordings and folders.
package storage

import (
	"context"
	"errors"

	"github.com/audiolibrelab/memocapture/internal/model"
)

// ErrNotFound is returned when a recording or folder does not exist.
var ErrNotFound = errors.New("storage: not found")

// Tx is the set of operations available both inside and outside a transaction.
type Tx interface {
	// Recordings
	CreateRecording(ctx context.Context, rec *model.Recording) error
	UpdateRecording(ctx context.Context, rec *model.Recording) error
	DeleteRecording(ctx context.Context, id string) error
	GetRecordingByID(ctx context.Context, id string) (*model.Recording, error)
	GetRecordingsByFolder(ctx context.Context, folderID string) ([]*model.Recording, error)
	ListRecordings(ctx context.Context) ([]*model.Recording, error)
	ListDeletedRecordings(ctx context.Context) ([]*model.Recording, error)

	// Folders
	CreateFolder(ctx context.Context, folder *model.Folder) error
	GetFolder(ctx context.Context, id string) (*model.Folder, error)
	ListFolders(ctx context.Context) ([]*model.Folder, error)
	IncrementFolderCount(ctx context.Context, id string) error
	DecrementFolderCount(ctx context.Context, id string) error
	SetFolderCount(ctx context.Context, id string, count int) error
	CountActiveRecordings(ctx context.Context, folderID string) (int, error)
}

// Store is the durable store. RunTransaction commits when fn returns nil and
// rolls back otherwise.
type Store interface {
	Tx
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close() error
}
