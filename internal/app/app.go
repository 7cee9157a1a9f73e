// Package app builds the MemoCapture component graph from a configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/clock"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/foldersync"
	"github.com/audiolibrelab/memocapture/internal/fsys"
	"github.com/audiolibrelab/memocapture/internal/geo"
	"github.com/audiolibrelab/memocapture/internal/metrics"
	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/playback"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"
	"github.com/audiolibrelab/memocapture/internal/storage/sqlite"
	"github.com/audiolibrelab/memocapture/internal/trash"
)

// Options replace the real devices, mainly in tests. Nil fields use the
// ffmpeg, ffplay and PipeWire implementations.
type Options struct {
	Files       fsys.FileSystem
	Clock       clock.Clock
	Recorder    recording.Engine
	Player      playback.Engine
	Permissions recording.Permissions
	Prober      recording.Prober
}

// App owns every long-lived component.
type App struct {
	Config  *config.Config
	Store   *sqlite.SqliteStorage
	Metrics *metrics.Metrics
	Trash   *trash.Manager
	Service *service.MemoCaptureService

	recorder *audio.FFmpegRecorder
}

// New opens the database, makes sure the default folder exists, repairs
// folder counts and wires the service.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqlite.NewSqliteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{Config: cfg, Store: store, Metrics: metrics.New()}
	if err := a.wire(ctx, opts); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	files := opts.Files
	if files == nil {
		files = fsys.NewOS(cfg.Storage.DocumentsRoot)
	}

	folders := foldersync.New(a.Store)
	defaultFolder := &model.Folder{ID: cfg.Recording.DefaultFolder, Name: "Recordings", CreatedAt: clk.Now()}
	if err := folders.EnsureFolder(ctx, defaultFolder); err != nil {
		return fmt.Errorf("failed to create default folder: %w", err)
	}
	if err := folders.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile folder counts: %w", err)
	}

	prober := opts.Prober
	if prober == nil {
		prober = audio.NewFFProbe()
	}
	recorder := opts.Recorder
	if recorder == nil {
		a.recorder = audio.NewFFmpegRecorder(audio.RecorderConfig{
			Backend: cfg.Recording.Backend,
			Input:   cfg.Recording.Input,
		})
		recorder = a.recorder
	}
	permissions := opts.Permissions
	if permissions == nil {
		permissions = audio.NewDevicePermission(audio.PermissionConfig{
			AssumeGranted: cfg.Permission.AssumeGranted,
			Source:        cfg.Permission.Source,
		}, nil)
	}
	player := opts.Player
	if player == nil {
		player = newPlayer(cfg.Playback.Player, prober, clk)
	}

	deps := recording.Deps{
		Engine:      recorder,
		Permissions: permissions,
		Files:       files,
		Store:       folders,
		Clock:       clk,
		Prober:      prober,
		Outcomes:    a.Metrics,
	}
	if cfg.Location.Enabled {
		deps.Lookup = geo.NewNominatimLookup(cfg.Location.BaseURL, cfg.Location.Timeout)
	}
	session := recording.NewSession(recording.Config{
		RecordingsRoot:    cfg.RecordingsRoot(),
		DefaultFolderID:   cfg.Recording.DefaultFolder,
		MaxNameLength:     cfg.Recording.MaxNameLength,
		AmplitudeInterval: cfg.Recording.AmplitudeInterval,
	}, deps)

	controller := playback.NewController(playback.Config{
		CompletionThreshold: cfg.Playback.CompletionThreshold,
		SkipStep:            cfg.Playback.SkipStep,
		Anchor:              cfg.Storage.Anchor,
	}, player, files, a.Metrics)

	a.Trash = trash.NewManager(trash.Config{
		Retention:       cfg.Trash.Retention,
		DefaultFolderID: cfg.Recording.DefaultFolder,
	}, a.Store, files, clk, a.Metrics)

	format, err := model.ParseFormat(cfg.Recording.Format)
	if err != nil {
		return err
	}
	a.Service = service.New(service.Config{
		DefaultFolderID: cfg.Recording.DefaultFolder,
		DefaultSettings: recording.Settings{
			Format:     format,
			SampleRate: cfg.Recording.SampleRate,
			BitRate:    cfg.Recording.BitRate,
		},
	}, service.Deps{
		Store:    a.Store,
		Session:  session,
		Playback: controller,
		Trash:    a.Trash,
		Clock:    clk,
	})
	return nil
}

// newPlayer falls back to an engine that reports the missing player on
// Open, so commands that never play still work without one installed.
func newPlayer(name string, prober recording.Prober, clk clock.Clock) playback.Engine {
	player, err := audio.NewProcessPlayer(audio.PlayerConfig{Player: name}, prober, clk)
	if err == nil {
		return player
	}
	slog.Debug("Configured player unavailable, trying any installed player", "player", name, "error", err)
	player, err = audio.NewProcessPlayer(audio.PlayerConfig{}, prober, clk)
	if err == nil {
		return player
	}
	slog.Warn("No audio player available, playback disabled", "error", err)
	return unavailablePlayer{err: err}
}

// Apply pushes the hot-reloadable settings of cfg into the running service.
func (a *App) Apply(cfg *config.Config) {
	a.Service.ApplySettings(service.Tunables{
		Retention:           cfg.Trash.Retention,
		CompletionThreshold: cfg.Playback.CompletionThreshold,
	})
}

// Sweep runs one trash expiry sweep and counts it.
func (a *App) Sweep(ctx context.Context) (*trash.SweepReport, error) {
	report, err := a.Service.SweepTrash(ctx)
	if err != nil {
		return nil, err
	}
	a.Metrics.SweepRan()
	return report, nil
}

// RunSweeper sweeps immediately and then every interval until ctx ends.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if _, err := a.Sweep(ctx); err != nil {
		slog.Error("Startup trash sweep failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				slog.Error("Trash sweep failed", "error", err)
			}
		}
	}
}

// Close stops any capture or playback and closes the database.
func (a *App) Close(ctx context.Context) error {
	a.Service.Close(ctx)
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	return a.Store.Close()
}
