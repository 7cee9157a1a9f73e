package playback

import (
	"context"
	"time"
)

// EventKind tells which field of an Event changed.
type EventKind int

const (
	EventPosition EventKind = iota
	EventDuration
	EventState
)

// Processing is the engine's loading state.
type Processing int

const (
	ProcessingIdle Processing = iota
	ProcessingLoading
	ProcessingReady
	ProcessingCompleted
)

func (p Processing) String() string {
	switch p {
	case ProcessingLoading:
		return "loading"
	case ProcessingReady:
		return "ready"
	case ProcessingCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Event is one update from the engine's position, duration or player state stream.
type Event struct {
	Kind       EventKind
	Position   time.Duration
	Duration   time.Duration
	Playing    bool
	Processing Processing
}

// Engine plays one file at a time. Position events of one subscription
// arrive in non-decreasing order and delivery never blocks the engine.
type Engine interface {
	Open(ctx context.Context, path string) (time.Duration, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, pos time.Duration) error
	Stop(ctx context.Context) error
	Subscribe() (<-chan Event, func())
}
