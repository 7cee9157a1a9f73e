package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

var supportedPlayers = map[string]bool{"": true, "ffplay": true, "mpv": true, "vlc": true}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := validateStorage(c.Storage, "storage"); err != nil {
		return err
	}
	if err := validateRecording(c.Recording, "recording"); err != nil {
		return err
	}
	if err := validatePlayback(c.Playback, "playback"); err != nil {
		return err
	}
	if err := validateTrash(c.Trash, "trash"); err != nil {
		return err
	}
	if err := validateLocation(c.Location, "location"); err != nil {
		return err
	}
	if err := validateServer(c.Server, "server"); err != nil {
		return err
	}
	return nil
}

func validateStorage(s StorageConfig, prefix string) error {
	if s.DatabasePath == "" {
		return fmt.Errorf("%s: 'database_path' is required", prefix)
	}
	if s.DocumentsRoot == "" {
		return fmt.Errorf("%s: 'documents_root' is required", prefix)
	}
	if s.RecordingsDir == "" {
		return fmt.Errorf("%s: 'recordings_dir' is required", prefix)
	}
	return nil
}

func validateRecording(r RecordingConfig, prefix string) error {
	format, err := model.ParseFormat(r.Format)
	if err != nil {
		return fmt.Errorf("%s: 'format' must be wav, m4a or flac, got: %s", prefix, r.Format)
	}
	settings := recording.Settings{Format: format, SampleRate: r.SampleRate, BitRate: r.BitRate}
	if _, err := settings.Normalize(); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if r.MaxNameLength <= 0 {
		return fmt.Errorf("%s: 'max_name_length' must be positive, got: %d", prefix, r.MaxNameLength)
	}
	if r.AmplitudeInterval <= 0 {
		return fmt.Errorf("%s: 'amplitude_interval' must be positive, got: %s", prefix, r.AmplitudeInterval)
	}
	if r.DefaultFolder == "" {
		return fmt.Errorf("%s: 'default_folder' is required", prefix)
	}
	if model.IsReservedFolderID(r.DefaultFolder) {
		return fmt.Errorf("%s: 'default_folder' cannot be the reserved folder %q", prefix, r.DefaultFolder)
	}
	return nil
}

func validatePlayback(p PlaybackConfig, prefix string) error {
	if p.CompletionThreshold <= 0 || p.CompletionThreshold > 1 {
		return fmt.Errorf("%s: 'completion_threshold' must be in (0, 1], got: %g", prefix, p.CompletionThreshold)
	}
	if p.SkipStep <= 0 {
		return fmt.Errorf("%s: 'skip_step' must be positive, got: %s", prefix, p.SkipStep)
	}
	if !supportedPlayers[p.Player] {
		return fmt.Errorf("%s: 'player' must be ffplay, mpv or vlc, got: %s", prefix, p.Player)
	}
	return nil
}

func validateTrash(t TrashConfig, prefix string) error {
	if t.Retention <= 0 {
		return fmt.Errorf("%s: 'retention' must be positive, got: %s", prefix, t.Retention)
	}
	if t.SweepInterval <= 0 {
		return fmt.Errorf("%s: 'sweep_interval' must be positive, got: %s", prefix, t.SweepInterval)
	}
	return nil
}

func validateLocation(l LocationConfig, prefix string) error {
	if !l.Enabled {
		return nil
	}
	u, err := url.Parse(l.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: 'base_url' must be an absolute URL, got: %s", prefix, l.BaseURL)
	}
	if l.Timeout <= 0 {
		return fmt.Errorf("%s: 'timeout' must be positive, got: %s", prefix, l.Timeout)
	}
	return nil
}

func validateServer(s ServerConfig, prefix string) error {
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s: 'port' must be a number between 1 and 65535, got: %s", prefix, s.Port)
	}
	return nil
}
