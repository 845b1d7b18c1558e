// Package track turns Kongsberg .all survey files into ordered position
// tracks, one per file.
package track

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Bucknalla/all2gpx/kongsberg"
)

// Lookup errors returned by Set.Pick
var (
	ErrTrackNotFound  = errors.New("no such track")
	ErrAmbiguousTrack = errors.New("track name matches more than one file")
	ErrNoTrackPoints  = errors.New("no track has any points")
)

// Point is one accepted position fix. Points are never modified once
// appended to a track.
type Point struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Track is the ordered sequence of fixes taken from one source file
type Track struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// FileFailure records a file that could not be decoded to the end
type FileFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (f FileFailure) Error() string {
	return f.Path + ": " + f.Err.Error()
}

// FileSummary holds the diagnostics gathered from one file alongside its
// track
type FileSummary struct {
	Path       string                       `json:"path"`
	Datagrams  int                          `json:"datagrams"`
	Pings      int                          `json:"pings"`
	Descriptor byte                         `json:"descriptor"`
	Depth      DepthStats                   `json:"depth"`
	Attitude   *kongsberg.AttitudeEntry     `json:"attitude,omitempty"`
	Runtime    *kongsberg.RuntimeParameters `json:"runtime,omitempty"`
}

// Set is the result of processing a batch of files. Tracks follow the
// order in which files were given, one per file.
type Set struct {
	Tracks      []Track       `json:"tracks"`
	Files       []FileSummary `json:"files,omitempty"` // Files[i] describes Tracks[i]
	Failures    []FileFailure `json:"failures,omitempty"`
	TotalPoints int           `json:"total_points"`
	TotalPings  int           `json:"total_pings"`
}

// Pick returns the track for key. An empty key picks the first track with
// points. Otherwise key is a file path, or a trailing part of one such as
// "day2/0001.all", and must match exactly one file. Sets without file
// summaries are matched on track name.
func (s Set) Pick(key string) (Track, error) {
	if key == "" {
		for _, t := range s.Tracks {
			if len(t.Points) > 0 {
				return t, nil
			}
		}
		return Track{}, ErrNoTrackPoints
	}

	key = filepath.ToSlash(key)
	var matches []int
	for i, t := range s.Tracks {
		if s.matches(i, t, key) {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		return Track{}, fmt.Errorf("%w: %s", ErrTrackNotFound, key)
	case 1:
		return s.Tracks[matches[0]], nil
	}
	paths := make([]string, len(matches))
	for j, i := range matches {
		paths[j] = s.path(i)
	}
	return Track{}, fmt.Errorf("%w: %s (%s)", ErrAmbiguousTrack, key, strings.Join(paths, ", "))
}

func (s Set) matches(i int, t Track, key string) bool {
	if i >= len(s.Files) {
		return t.Name == key
	}
	p := filepath.ToSlash(s.Files[i].Path)
	return p == key || strings.HasSuffix(p, "/"+key)
}

func (s Set) path(i int) string {
	if i < len(s.Files) {
		return s.Files[i].Path
	}
	return s.Tracks[i].Name
}
