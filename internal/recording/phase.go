package recording

import (
	"time"

	"github.com/audiolibrelab/memocapture/internal/model"
)

// Phase is one state of a recording attempt. The concrete types are Idle,
// AwaitingPermission, Starting, Active, Paused, Stopping, Completed,
// Cancelled and Failed.
type Phase interface {
	Name() string
	Terminal() bool
	phase()
}

// Idle is the state before the first attempt.
type Idle struct{}

// AwaitingPermission waits for the user to grant microphone access.
type AwaitingPermission struct {
	FolderID string `json:"folder_id"`
}

// Starting resolves the name and output path and opens the engine.
type Starting struct {
	FolderID string   `json:"folder_id"`
	Settings Settings `json:"settings"`
}

// Active is a running capture.
type Active struct {
	ID        string        `json:"id"`
	Title     string        `json:"name"`
	Path      string        `json:"path"`
	FolderID  string        `json:"folder_id"`
	Settings  Settings      `json:"settings"`
	Elapsed   time.Duration `json:"elapsed"`
	Amplitude float64       `json:"amplitude"`
}

// Paused is a capture on hold. Elapsed is frozen.
type Paused struct {
	ID       string        `json:"id"`
	Title    string        `json:"name"`
	Path     string        `json:"path"`
	FolderID string        `json:"folder_id"`
	Settings Settings      `json:"settings"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Stopping finalizes the file and persists the artifact.
type Stopping struct {
	ID      string        `json:"id"`
	Path    string        `json:"path"`
	Elapsed time.Duration `json:"elapsed"`
}

// Completed carries the persisted recording.
type Completed struct {
	Recording *model.Recording `json:"recording"`
}

// Cancelled means the attempt was discarded.
type Cancelled struct {
	ID string `json:"id"`
}

// Failed ends the attempt with a typed error.
type Failed struct {
	Err *model.Error `json:"error,omitempty"`
}

func (Idle) Name() string               { return "idle" }
func (AwaitingPermission) Name() string { return "awaiting_permission" }
func (Starting) Name() string           { return "starting" }
func (Active) Name() string             { return "recording" }
func (Paused) Name() string             { return "paused" }
func (Stopping) Name() string           { return "stopping" }
func (Completed) Name() string          { return "completed" }
func (Cancelled) Name() string          { return "cancelled" }
func (Failed) Name() string             { return "failed" }

func (Idle) Terminal() bool               { return false }
func (AwaitingPermission) Terminal() bool { return false }
func (Starting) Terminal() bool           { return false }
func (Active) Terminal() bool             { return false }
func (Paused) Terminal() bool             { return false }
func (Stopping) Terminal() bool           { return false }
func (Completed) Terminal() bool          { return true }
func (Cancelled) Terminal() bool          { return true }
func (Failed) Terminal() bool             { return true }

func (Idle) phase()               {}
func (AwaitingPermission) phase() {}
func (Starting) phase()           {}
func (Active) phase()             {}
func (Paused) phase()             {}
func (Stopping) phase()           {}
func (Completed) phase()          {}
func (Cancelled) phase()          {}
func (Failed) phase()             {}

// inProgress reports whether p belongs to an unfinished attempt.
func inProgress(p Phase) bool {
	switch p.(type) {
	case Idle, nil:
		return false
	}
	return !p.Terminal()
}
