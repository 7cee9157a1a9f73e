package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MEMOCAPTURE"

type Config struct {
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Recording  RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Playback   PlaybackConfig   `mapstructure:"playback" yaml:"playback"`
	Trash      TrashConfig      `mapstructure:"trash" yaml:"trash"`
	Permission PermissionConfig `mapstructure:"permission" yaml:"permission"`
	Location   LocationConfig   `mapstructure:"location" yaml:"location"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

type StorageConfig struct {
	DatabasePath  string `mapstructure:"database_path" yaml:"database_path"`
	DocumentsRoot string `mapstructure:"documents_root" yaml:"documents_root"`
	RecordingsDir string `mapstructure:"recordings_dir" yaml:"recordings_dir"` // relative to documents_root
	Anchor        string `mapstructure:"anchor" yaml:"anchor"`                 // path segment used to recover moved files
}

type RecordingConfig struct {
	Format            string        `mapstructure:"format" yaml:"format"`
	SampleRate        int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	BitRate           int           `mapstructure:"bit_rate" yaml:"bit_rate"`
	MaxNameLength     int           `mapstructure:"max_name_length" yaml:"max_name_length"`
	AmplitudeInterval time.Duration `mapstructure:"amplitude_interval" yaml:"amplitude_interval"`
	DefaultFolder     string        `mapstructure:"default_folder" yaml:"default_folder"`
	Input             string        `mapstructure:"input" yaml:"input"`     // ffmpeg input device
	Backend           string        `mapstructure:"backend" yaml:"backend"` // ffmpeg -f
}

type PlaybackConfig struct {
	CompletionThreshold float64       `mapstructure:"completion_threshold" yaml:"completion_threshold"`
	SkipStep            time.Duration `mapstructure:"skip_step" yaml:"skip_step"`
	Player              string        `mapstructure:"player" yaml:"player"` // ffplay, mpv, vlc or empty for auto
}

type TrashConfig struct {
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type PermissionConfig struct {
	AssumeGranted bool   `mapstructure:"assume_granted" yaml:"assume_granted"`
	Source        string `mapstructure:"source" yaml:"source"`
}

type LocationConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Storage: StorageConfig{
		DatabasePath:  "~/.local/share/memocapture/memocapture.db",
		DocumentsRoot: "~/Documents",
		RecordingsDir: "MemoCapture",
		Anchor:        "Documents",
	},
	Recording: RecordingConfig{
		Format:            "m4a",
		SampleRate:        44100,
		BitRate:           128000,
		MaxNameLength:     100,
		AmplitudeInterval: 100 * time.Millisecond,
		DefaultFolder:     "default",
		Input:             "default",
		Backend:           "pulse",
	},
	Playback: PlaybackConfig{
		CompletionThreshold: 0.99,
		SkipStep:            10 * time.Second,
		Player:              "ffplay",
	},
	Trash: TrashConfig{
		Retention:     15 * 24 * time.Hour,
		SweepInterval: time.Hour,
	},
	Location: LocationConfig{
		BaseURL: "https://nominatim.openstreetmap.org",
		Timeout: 5 * time.Second,
	},
	Server: ServerConfig{
		Port: "8080",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// DefaultPath is where the config file lives when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/memocapture.yaml")
}

// RecordingsRoot is the directory new recordings are written to.
func (c *Config) RecordingsRoot() string {
	if filepath.IsAbs(c.Storage.RecordingsDir) {
		return c.Storage.RecordingsDir
	}
	return filepath.Join(c.Storage.DocumentsRoot, c.Storage.RecordingsDir)
}

// YAML renders the configuration as it would be written to disk.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Loader reads the config file, overlays MEMOCAPTURE_* environment
// variables and can watch the file for changes.
type Loader struct {
	path string
	v    *viper.Viper

	mu      sync.Mutex
	current *Config
}

func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{path: path, v: v}
}

func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the configuration. A missing file is not an
// error: defaults and environment variables apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", l.path, err)
		}
		slog.Debug("Config file not found, using defaults", "path", l.path)
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath)
	cfg.Storage.DocumentsRoot = expandPath(cfg.Storage.DocumentsRoot)
	cfg.Storage.RecordingsDir = expandPath(cfg.Storage.RecordingsDir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with every valid configuration written to the file.
// Invalid edits are logged and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			slog.Warn("Ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		slog.Info("Config reloaded", "path", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := Default().YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig
	v.SetDefault("storage.database_path", d.Storage.DatabasePath)
	v.SetDefault("storage.documents_root", d.Storage.DocumentsRoot)
	v.SetDefault("storage.recordings_dir", d.Storage.RecordingsDir)
	v.SetDefault("storage.anchor", d.Storage.Anchor)
	v.SetDefault("recording.format", d.Recording.Format)
	v.SetDefault("recording.sample_rate", d.Recording.SampleRate)
	v.SetDefault("recording.bit_rate", d.Recording.BitRate)
	v.SetDefault("recording.max_name_length", d.Recording.MaxNameLength)
	v.SetDefault("recording.amplitude_interval", d.Recording.AmplitudeInterval)
	v.SetDefault("recording.default_folder", d.Recording.DefaultFolder)
	v.SetDefault("recording.input", d.Recording.Input)
	v.SetDefault("recording.backend", d.Recording.Backend)
	v.SetDefault("playback.completion_threshold", d.Playback.CompletionThreshold)
	v.SetDefault("playback.skip_step", d.Playback.SkipStep)
	v.SetDefault("playback.player", d.Playback.Player)
	v.SetDefault("trash.retention", d.Trash.Retention)
	v.SetDefault("trash.sweep_interval", d.Trash.SweepInterval)
	v.SetDefault("permission.assume_granted", d.Permission.AssumeGranted)
	v.SetDefault("permission.source", d.Permission.Source)
	v.SetDefault("location.enabled", d.Location.Enabled)
	v.SetDefault("location.base_url", d.Location.BaseURL)
	v.SetDefault("location.timeout", d.Location.Timeout)
	v.SetDefault("server.port", d.Server.Port)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
