package model

import (
	"strings"
	"time"
)

// Reserved folder identifiers. They only appear in persisted rows and are
// interpreted by ParseFolderRef; callers work with FolderRef.
const (
	trashFolderID = "recently_deleted"
	allFolderID   = "all_recordings"
)

// FolderKind distinguishes real folders from the computed views.
type FolderKind int

const (
	FolderNormal FolderKind = iota
	FolderTrash
	FolderAll
)

func (k FolderKind) String() string {
	switch k {
	case FolderTrash:
		return "trash"
	case FolderAll:
		return "all"
	default:
		return "normal"
	}
}

// FolderRef names a folder or one of the computed views.
type FolderRef struct {
	Kind FolderKind
	id   string
}

var (
	TrashFolder = FolderRef{Kind: FolderTrash}
	AllFolder   = FolderRef{Kind: FolderAll}
)

// NormalFolder references a user folder by id.
func NormalFolder(id string) FolderRef {
	return FolderRef{Kind: FolderNormal, id: id}
}

// ParseFolderRef interprets a stored folder id.
func ParseFolderRef(id string) FolderRef {
	switch id {
	case trashFolderID:
		return TrashFolder
	case allFolderID:
		return AllFolder
	default:
		return NormalFolder(id)
	}
}

// ID returns the persisted identifier of the reference.
func (f FolderRef) ID() string {
	switch f.Kind {
	case FolderTrash:
		return trashFolderID
	case FolderAll:
		return allFolderID
	default:
		return f.id
	}
}

// IsReal reports whether the folder has a stored recording count.
func (f FolderRef) IsReal() bool {
	return f.Kind == FolderNormal && f.id != ""
}

func (f FolderRef) String() string {
	return f.ID()
}

// IsReservedFolderID reports whether id collides with a computed view.
func IsReservedFolderID(id string) bool {
	return ParseFolderRef(strings.TrimSpace(id)).Kind != FolderNormal
}

// Folder is a user folder with its cached recording count.
type Folder struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	RecordingCount int       `json:"recording_count" yaml:"recording_count"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}
