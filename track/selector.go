package track

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Bucknalla/all2gpx/kongsberg"
)

// SelectorState is the state of a Selector
type SelectorState int

const (
	Unselected SelectorState = iota
	Selected
)

func (s SelectorState) String() string {
	if s == Selected {
		return "selected"
	}
	return "unselected"
}

// Selector picks the positioning system for one file. The first
// descriptor seen wins and stays selected for the rest of the file.
type Selector struct {
	state      SelectorState
	descriptor byte
}

// Accept reports whether a position record from descriptor d belongs to
// the selected system, selecting d if nothing is selected yet.
func (s *Selector) Accept(d byte) bool {
	if s.state == Unselected {
		s.state = Selected
		s.descriptor = d
		return true
	}
	return d == s.descriptor
}

// State returns the current selector state
func (s *Selector) State() SelectorState {
	return s.state
}

// Descriptor returns the selected descriptor, if any
func (s *Selector) Descriptor() (byte, bool) {
	return s.descriptor, s.state == Selected
}

// AcceptFunc decides whether a fix at ts is kept, given the time of the
// first kept fix of the file.
type AcceptFunc func(ts, start time.Time) bool

// GateWithin keeps only fixes less than d after the first fix
func GateWithin(d time.Duration) AcceptFunc {
	return func(ts, start time.Time) bool {
		return ts.Sub(start) < d
	}
}

// Accumulator collects the accepted fixes of one file in arrival order.
type Accumulator struct {
	accept  AcceptFunc
	start   time.Time
	started bool
	points  []Point
}

// NewAccumulator returns an accumulator. A nil accept keeps every fix.
func NewAccumulator(accept AcceptFunc) *Accumulator {
	return &Accumulator{accept: accept}
}

// Add appends a fix. The first fix always starts the track; later fixes
// go through the accept hook. It reports whether the fix was kept.
func (a *Accumulator) Add(ts time.Time, lat, lon float64) bool {
	if !a.started {
		a.started = true
		a.start = ts
	} else if a.accept != nil && !a.accept(ts, a.start) {
		return false
	}
	a.points = append(a.points, Point{Time: ts, Latitude: lat, Longitude: lon})
	return true
}

// StartTime returns the time of the first fix
func (a *Accumulator) StartTime() (time.Time, bool) {
	return a.start, a.started
}

// Len returns the number of kept fixes
func (a *Accumulator) Len() int {
	return len(a.points)
}

// Track finalizes the accumulated fixes under name
func (a *Accumulator) Track(name string) Track {
	pts := make([]Point, len(a.points))
	copy(pts, a.points)
	return Track{Name: name, Points: pts}
}

// DepthStats summarises nadir ocean depths of a file
type DepthStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// PingCounter counts depth pings that carry at least one beam.
type PingCounter struct {
	count  int
	depths []float64
}

// Observe counts p if it has beams. Empty pings are ignored and reported
// as not counted.
func (c *PingCounter) Observe(p kongsberg.DepthPing) bool {
	depth, ok := p.OceanDepth()
	if !ok {
		return false
	}
	c.count++
	c.depths = append(c.depths, depth)
	return true
}

// Count returns the number of counted pings
func (c *PingCounter) Count() int {
	return c.count
}

// Stats returns nadir depth statistics over the counted pings
func (c *PingCounter) Stats() DepthStats {
	if len(c.depths) == 0 {
		return DepthStats{}
	}
	mean, std := stat.MeanStdDev(c.depths, nil)
	if len(c.depths) == 1 {
		std = 0
	}
	return DepthStats{
		Count:  len(c.depths),
		Min:    floats.Min(c.depths),
		Max:    floats.Max(c.depths),
		Mean:   mean,
		StdDev: std,
	}
}
