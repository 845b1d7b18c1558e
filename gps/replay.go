package gps

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Bucknalla/all2gpx/track"
)

// Sleeper waits between fixes. Tests substitute one that does not block.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Replayer streams a track as NMEA sentences with the track's own timing
type Replayer struct {
	mu        sync.RWMutex
	config    ReplayConfig
	track     track.Track
	sleeper   Sleeper
	writer    io.Writer
	callbacks []func(NMEAData)
	now       func() time.Time

	useTimestamps bool
	running       bool
	index         int
	loops         int
	completed     bool
	startTime     time.Time
}

// NewReplayer creates a replayer for t
func NewReplayer(t track.Track, config ReplayConfig) (*Replayer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(t.Points) == 0 {
		return nil, fmt.Errorf("%s: %w", t.Name, ErrEmptyTrack)
	}
	r := &Replayer{
		config:  config,
		track:   t,
		sleeper: realSleeper{},
		now:     time.Now,
	}
	r.useTimestamps = r.hasSequentialTimestamps()
	return r, nil
}

// SetNMEAWriter sets the writer for NMEA output
func (r *Replayer) SetNMEAWriter(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer = w
}

// SetSleeper replaces the wait between fixes
func (r *Replayer) SetSleeper(s Sleeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeper = s
}

// AddCallback adds a callback function that will be called with each NMEA
// data update. Callbacks run on the replay goroutine.
func (r *Replayer) AddCallback(callback func(NMEAData)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Status returns the current replay status
func (r *Replayer) Status() ReplayStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ReplayStatus{
		Running:   r.running,
		Track:     r.track.Name,
		Index:     r.index,
		Total:     len(r.track.Points),
		Completed: r.completed,
		Loops:     r.loops,
		StartTime: r.startTime,
	}
}

// Run replays the track until it completes, ctx is cancelled or a write
// fails. With Loop set it only returns on cancellation or write failure.
func (r *Replayer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrReplayAlreadyRunning
	}
	r.running = true
	r.completed = false
	r.startTime = r.now()
	sleeper := r.sleeper
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	points := r.track.Points
	var last Fix
	for {
		for i := range points {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.mu.Lock()
			r.index = i
			r.mu.Unlock()

			fix := r.FixAt(i, last)
			if err := r.emit(i, fix); err != nil {
				return err
			}
			last = fix

			if err := sleeper.Sleep(ctx, r.wait(i)); err != nil {
				return err
			}
		}

		r.mu.Lock()
		r.completed = true
		r.loops++
		loop := r.config.Loop
		r.mu.Unlock()
		if !loop {
			return nil
		}
	}
}

// FixAt returns the fix for point i. Speed and course are derived from the
// next point; the last point carries those of prev.
func (r *Replayer) FixAt(i int, prev Fix) Fix {
	p := r.track.Points[i]
	fix := Fix{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Altitude:   r.config.Altitude,
		Speed:      prev.Speed,
		Course:     prev.Course,
		Satellites: r.config.Satellites,
		Timestamp:  p.Time,
	}
	if !r.useTimestamps || p.Time.IsZero() {
		fix.Timestamp = r.now()
	}

	if i < len(r.track.Points)-1 {
		next := r.track.Points[i+1]
		distance := Distance(p.Latitude, p.Longitude, next.Latitude, next.Longitude)

		var timeDiff float64
		if r.useTimestamps {
			timeDiff = next.Time.Sub(p.Time).Seconds()
		} else {
			timeDiff = r.config.Rate.Seconds()
		}
		if timeDiff > 0 {
			fix.Speed = (distance / timeDiff) * knotsPerMPS
			fix.Course = Bearing(p.Latitude, p.Longitude, next.Latitude, next.Longitude)
		}
	}
	return fix
}

// wait returns how long to hold point i before moving on
func (r *Replayer) wait(i int) time.Duration {
	d := r.config.Rate
	if r.useTimestamps && i < len(r.track.Points)-1 {
		d = r.track.Points[i+1].Time.Sub(r.track.Points[i].Time)
	}
	return time.Duration(float64(d) / r.config.Speed)
}

func (r *Replayer) emit(i int, fix Fix) error {
	sentences := Sentences(fix)

	r.mu.RLock()
	w := r.writer
	callbacks := r.callbacks
	r.mu.RUnlock()

	if w != nil {
		for _, s := range sentences {
			if _, err := io.WriteString(w, s); err != nil {
				return fmt.Errorf("failed to write NMEA: %w", err)
			}
		}
	}

	data := NMEAData{
		Track:     r.track.Name,
		Index:     i,
		Sentences: sentences,
		Fix:       fix,
		Timestamp: fix.Timestamp,
	}
	for _, callback := range callbacks {
		callback(data)
	}
	return nil
}

// hasSequentialTimestamps checks if the track points have usable,
// non-decreasing timestamps spanning a non-zero interval
func (r *Replayer) hasSequentialTimestamps() bool {
	points := r.track.Points
	if len(points) < 2 {
		return false
	}
	for i := 0; i < len(points)-1; i++ {
		if points[i].Time.IsZero() || points[i+1].Time.Before(points[i].Time) {
			return false
		}
	}
	return points[len(points)-1].Time.After(points[0].Time)
}
