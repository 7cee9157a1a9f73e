// Package geo resolves coordinates into short place names for recordings.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the public OpenStreetMap reverse geocoder.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// NominatimLookup calls the Nominatim reverse geocoding API.
type NominatimLookup struct {
	client *resty.Client
}

// NewNominatimLookup creates a lookup against baseURL. An empty baseURL uses
// DefaultBaseURL.
func NewNominatimLookup(baseURL string, timeout time.Duration) *NominatimLookup {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "memocapture/1.0").
		SetTimeout(timeout)

	return &NominatimLookup{client: c}
}

type reverseResponse struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// apiError is the body Nominatim sends with a 4xx/5xx status.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup returns a short human name for the coordinates.
func (n *NominatimLookup) Lookup(ctx context.Context, lat, lon float64) (string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("coordinates out of range: %f,%f", lat, lon)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "jsonv2",
			"lat":    strconv.FormatFloat(lat, 'f', 6, 64),
			"lon":    strconv.FormatFloat(lon, 'f', 6, 64),
			"zoom":   "16",
		}).
		ExpectContentType("application/json").
		SetResult(&reverseResponse{}).
		SetError(&apiError{}).
		Get("/reverse")
	if err != nil {
		return "", fmt.Errorf("nominatim request: %w", err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error.Message != "" {
			return "", fmt.Errorf("nominatim status %d: %s", resp.StatusCode(), e.Error.Message)
		}
		return "", fmt.Errorf("nominatim status %d: %s", resp.StatusCode(), resp.String())
	}

	rr := resp.Result().(*reverseResponse)
	if rr.Error != "" {
		return "", fmt.Errorf("nominatim: %s", rr.Error)
	}
	name := placeName(*rr)
	if name == "" {
		return "", errors.New("nominatim returned no place name")
	}
	return name, nil
}

// placeName picks the most specific short label available.
func placeName(rr reverseResponse) string {
	if name := strings.TrimSpace(rr.Name); name != "" {
		return name
	}
	for _, key := range []string{"road", "neighbourhood", "suburb", "village", "town", "city"} {
		if v := strings.TrimSpace(rr.Address[key]); v != "" {
			return v
		}
	}
	first, _, _ := strings.Cut(rr.DisplayName, ",")
	return strings.TrimSpace(first)
}
