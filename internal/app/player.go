package app

import (
	"context"
	"sync"
	"time"

	"github.com/audiolibrelab/memocapture/internal/playback"
)

type unavailablePlayer struct {
	err error
}

func (p unavailablePlayer) Open(ctx context.Context, path string) (time.Duration, error) {
	return 0, p.err
}

func (p unavailablePlayer) Play(ctx context.Context) error                    { return p.err }
func (p unavailablePlayer) Pause(ctx context.Context) error                   { return nil }
func (p unavailablePlayer) Seek(ctx context.Context, pos time.Duration) error { return p.err }
func (p unavailablePlayer) Stop(ctx context.Context) error                    { return nil }

func (p unavailablePlayer) Subscribe() (<-chan playback.Event, func()) {
	ch := make(chan playback.Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
