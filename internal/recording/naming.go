package recording

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultMaxNameLength = 100
	fallbackFileName     = "recording"
)

// LocationLookup turns coordinates into a place name.
type LocationLookup interface {
	Lookup(ctx context.Context, lat, lon float64) (string, error)
}

// TimestampName is the deterministic fallback name for a recording started at t.
func TimestampName(t time.Time) string {
	return "Recording " + t.Format("2006-01-02 15:04")
}

// resolveName picks the display name: explicit name, then location lookup,
// then the timestamp fallback. A lookup failure is logged and absorbed.
func resolveName(ctx context.Context, explicit string, lookup LocationLookup, lat, lon *float64, now time.Time) (name, location string) {
	if n := strings.TrimSpace(explicit); n != "" {
		return n, ""
	}
	if lookup != nil && lat != nil && lon != nil {
		place, err := lookup.Lookup(ctx, *lat, *lon)
		switch {
		case err != nil:
			slog.Warn("Location lookup failed, using timestamp name", "error", err)
		case strings.TrimSpace(place) != "":
			place = strings.TrimSpace(place)
			return place, place
		}
	}
	return TimestampName(now), ""
}

// SanitizeFileName makes name safe as a single path component: it drops
// / \ : * ? " < > | and control characters, turns whitespace runs into a
// single underscore and truncates to maxLen runes.
func SanitizeFileName(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}

	var b strings.Builder
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r), strings.ContainsRune(`/\:*?"<>|`, r):
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	out := []rune(b.String())
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	s := strings.Trim(string(out), "_.")
	if s == "" {
		return fallbackFileName
	}
	return s
}
