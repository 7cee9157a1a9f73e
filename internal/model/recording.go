package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format is the container/codec of a recording file.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatM4A  Format = "m4a"
	FormatFLAC Format = "flac"
)

// ParseFormat accepts a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatM4A:
		return FormatM4A, nil
	case FormatFLAC:
		return FormatFLAC, nil
	}
	return "", Errorf(KindInvalidConfiguration, "unsupported format %q (valid: wav, m4a, flac)", s)
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Recording is a completed, persisted recording artifact.
type Recording struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	FilePath         string        `json:"file_path" yaml:"file_path"`
	FolderID         string        `json:"folder_id" yaml:"folder_id"`
	Format           Format        `json:"format" yaml:"format"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
	FileSizeBytes    int64         `json:"file_size_bytes" yaml:"file_size_bytes"`
	SampleRate       int           `json:"sample_rate" yaml:"sample_rate"`
	BitRate          int           `json:"bit_rate,omitempty" yaml:"bit_rate,omitempty"`
	Latitude         *float64      `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude        *float64      `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	LocationName     string        `json:"location_name,omitempty" yaml:"location_name,omitempty"`
	CreatedAt        time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt        *time.Time    `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	IsFavorite       bool          `json:"is_favorite" yaml:"is_favorite"`
	Tags             []string      `json:"tags" yaml:"tags"`
	IsDeleted        bool          `json:"is_deleted" yaml:"is_deleted"`
	DeletedAt        *time.Time    `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`
	OriginalFolderID *string       `json:"original_folder_id,omitempty" yaml:"original_folder_id,omitempty"`
}

// Validate checks the record-level invariants.
func (r *Recording) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recording id is required")
	}
	if r.FileSizeBytes <= 0 {
		return fmt.Errorf("recording %s: file size must be > 0, got %d", r.ID, r.FileSizeBytes)
	}
	if r.Duration < 0 {
		return fmt.Errorf("recording %s: duration must be >= 0, got %s", r.ID, r.Duration)
	}
	if r.IsDeleted != (r.DeletedAt != nil) {
		return fmt.Errorf("recording %s: is_deleted=%t disagrees with deleted_at", r.ID, r.IsDeleted)
	}
	if r.OriginalFolderID != nil && !r.IsDeleted {
		return fmt.Errorf("recording %s: original_folder_id set on a live recording", r.ID)
	}
	return nil
}

// Folder returns the typed reference for FolderID.
func (r *Recording) Folder() FolderRef {
	return ParseFolderRef(r.FolderID)
}

// Clone returns a deep copy.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	if r.Latitude != nil {
		v := *r.Latitude
		c.Latitude = &v
	}
	if r.Longitude != nil {
		v := *r.Longitude
		c.Longitude = &v
	}
	if r.UpdatedAt != nil {
		v := *r.UpdatedAt
		c.UpdatedAt = &v
	}
	if r.DeletedAt != nil {
		v := *r.DeletedAt
		c.DeletedAt = &v
	}
	if r.OriginalFolderID != nil {
		v := *r.OriginalFolderID
		c.OriginalFolderID = &v
	}
	return &c
}

// NormalizeTags trims, de-duplicates and sorts a tag set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
