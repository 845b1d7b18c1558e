package gps

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Bucknalla/all2gpx/track"
)

const (
	gpxVersion = "1.1"
	gpxCreator = "all2gpx"
	gpxXmlns   = "http://www.topografix.com/GPX/1/1"
)

// GPX represents the root GPX document structure
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Tracks  []Track  `xml:"trk"`
	Routes  []Route  `xml:"rte,omitempty"`
}

// Track represents a GPX track
type Track struct {
	Name     string         `xml:"name"`
	Segments []TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a segment of a GPX track
type TrackSegment struct {
	TrackPoints []TrackPoint `xml:"trkpt"`
}

// TrackPoint represents a point in a GPX track. Survey fixes carry no
// elevation, and a record without a valid date has no time, so both are
// only written when set.
type TrackPoint struct {
	Lat       float64    `xml:"lat,attr"`
	Lon       float64    `xml:"lon,attr"`
	Elevation *float64   `xml:"ele,omitempty"`
	Time      *time.Time `xml:"time,omitempty"`
}

func newTrackPoint(p track.Point) TrackPoint {
	tp := TrackPoint{Lat: p.Latitude, Lon: p.Longitude}
	if !p.Time.IsZero() {
		ts := p.Time.UTC()
		tp.Time = &ts
	}
	return tp
}

func (tp TrackPoint) point() track.Point {
	p := track.Point{Latitude: tp.Lat, Longitude: tp.Lon}
	if tp.Time != nil {
		p.Time = *tp.Time
	}
	return p
}

// Route represents a GPX route
type Route struct {
	Name        string       `xml:"name"`
	RoutePoints []TrackPoint `xml:"rtept"`
}

// NewGPX returns an empty GPX 1.1 document
func NewGPX() *GPX {
	return &GPX{
		Version: gpxVersion,
		Creator: gpxCreator,
		Xmlns:   gpxXmlns,
	}
}

// FromSet builds a document with one <trk> per track, in set order. Tracks
// without points are kept so every input file is represented.
func FromSet(set track.Set) *GPX {
	g := NewGPX()
	for _, t := range set.Tracks {
		g.AddTrack(t)
	}
	return g
}

// AddTrack appends t as a single-segment <trk>
func (g *GPX) AddTrack(t track.Track) {
	seg := TrackSegment{TrackPoints: make([]TrackPoint, len(t.Points))}
	for i, p := range t.Points {
		seg.TrackPoints[i] = newTrackPoint(p)
	}
	g.Tracks = append(g.Tracks, Track{Name: t.Name, Segments: []TrackSegment{seg}})
}

// PointCount returns the number of track points across all tracks
func (g *GPX) PointCount() int {
	n := 0
	for _, t := range g.Tracks {
		for _, s := range t.Segments {
			n += len(s.TrackPoints)
		}
	}
	return n
}

// Encode writes the document, with XML header, to w
func (g *GPX) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(g); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return nil
}

// TrackList converts the document back into tracks. Each <trk> becomes one
// track with its segments joined; routes are used when no track exists.
func (g *GPX) TrackList() []track.Track {
	var out []track.Track
	for _, t := range g.Tracks {
		tr := track.Track{Name: t.Name, Points: []track.Point{}}
		for _, s := range t.Segments {
			for _, p := range s.TrackPoints {
				tr.Points = append(tr.Points, p.point())
			}
		}
		out = append(out, tr)
	}
	if len(out) == 0 {
		for _, r := range g.Routes {
			tr := track.Track{Name: r.Name, Points: make([]track.Point, len(r.RoutePoints))}
			for i, p := range r.RoutePoints {
				tr.Points[i] = p.point()
			}
			out = append(out, tr)
		}
	}
	return out
}

// WriteGPX encodes set as a GPX document to w
func WriteGPX(w io.Writer, set track.Set) error {
	return FromSet(set).Encode(w)
}

// GPXWriter accumulates tracks and writes them to a GPX file
type GPXWriter struct {
	filename string
	gpx      *GPX
	file     *os.File
}

// NewGPXWriter creates a new GPX writer
func NewGPXWriter(filename string) (*GPXWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %w", filename, err)
	}
	return &GPXWriter{filename: filename, gpx: NewGPX(), file: file}, nil
}

// AddTrack adds a track to the document
func (w *GPXWriter) AddTrack(t track.Track) {
	w.gpx.AddTrack(t)
}

// TrackCount returns the number of tracks currently stored
func (w *GPXWriter) TrackCount() int {
	return len(w.gpx.Tracks)
}

// PointCount returns the number of track points currently stored
func (w *GPXWriter) PointCount() int {
	return w.gpx.PointCount()
}

// WriteToFile rewrites the file with the current document
func (w *GPXWriter) WriteToFile() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to beginning of file: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if err := w.gpx.Encode(w.file); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close writes the final document and closes the file
func (w *GPXWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.WriteToFile()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// WriteGPXFile writes set to filename as a GPX document
func WriteGPXFile(filename string, set track.Set) error {
	w, err := NewGPXWriter(filename)
	if err != nil {
		return err
	}
	for _, t := range set.Tracks {
		w.AddTrack(t)
	}
	return w.Close()
}

// ReadGPX parses a GPX document and returns its tracks
func ReadGPX(r io.Reader) ([]track.Track, error) {
	var g GPX
	if err := xml.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}
	tracks := g.TrackList()
	if len(tracks) == 0 {
		return nil, ErrNoTracks
	}
	return tracks, nil
}

// ReadGPXFile reads and parses a GPX file, returning its tracks
func ReadGPXFile(filename string) ([]track.Track, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPX file %s: %w", filename, err)
	}
	defer file.Close()

	tracks, err := ReadGPX(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return tracks, nil
}
