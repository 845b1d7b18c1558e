package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/Bucknalla/all2gpx/kongsberg"
	"github.com/Bucknalla/all2gpx/track"
)

const (
	primaryDescriptor   = 1
	secondaryDescriptor = 2
	transducerDepth     = 3.0  // meters below the waterline
	swathAngle          = 60.0 // degrees either side of nadir
	secondaryOffset     = 0.0002
	typeInstallation    = 'I'
)

// SurveySummary describes a simulated survey file
type SurveySummary struct {
	Datagrams int
	Pings     int
	Bytes     int64
	// Track is the primary positioning system as written, before
	// fixed-point quantisation.
	Track track.Track
}

// Survey simulates a vessel running lines around a point and writes what
// its echosounder would log
type Survey struct {
	config SurveyConfig
	rng    *rand.Rand

	currentLat    float64
	currentLon    float64
	currentSpeed  float64 // knots, jitter applied
	currentCourse float64 // degrees, jitter applied
}

// NewSurvey creates a survey simulator
func NewSurvey(config SurveyConfig) (*Survey, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Survey{
		config:        config,
		rng:           rand.New(rand.NewSource(config.Seed)),
		currentLat:    config.Latitude,
		currentLon:    config.Longitude,
		currentSpeed:  config.Speed,
		currentCourse: config.Course,
	}, nil
}

// WriteFile writes the simulated survey to path
func (s *Survey) WriteFile(ctx context.Context, path string) (SurveySummary, error) {
	f, err := os.Create(path)
	if err != nil {
		return SurveySummary{}, fmt.Errorf("failed to create survey file %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	sum, err := s.Write(ctx, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return sum, err
}

// Write runs the whole survey and encodes it to w. The run is
// deterministic for a given seed.
func (s *Survey) Write(ctx context.Context, w io.Writer) (SurveySummary, error) {
	cfg := s.config
	enc := kongsberg.NewWriter(w, cfg.Model, cfg.Serial)
	sum := SurveySummary{Track: track.Track{Name: cfg.Name, Points: []track.Point{}}}

	write := func(err error) error {
		if err != nil {
			return err
		}
		sum.Datagrams++
		return nil
	}

	start := cfg.Start.UTC().Truncate(time.Millisecond)
	if err := write(enc.WriteRaw(typeInstallation, start, []byte(fmt.Sprintf("WLZ=0.00,SMH=%d,STC=0,", cfg.Serial)))); err != nil {
		return sum, err
	}
	if err := write(enc.WriteRuntime(s.runtime(start))); err != nil {
		return sum, err
	}

	steps := int(cfg.Duration / cfg.Interval)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		now := start.Add(time.Duration(i) * cfg.Interval)
		if i > 0 {
			s.updateSpeedAndCourse()
			s.updatePosition(cfg.Interval.Seconds())
		}

		if err := write(enc.WritePosition(s.position(now, primaryDescriptor, 0))); err != nil {
			return sum, err
		}
		sum.Track.Points = append(sum.Track.Points, track.Point{Time: now, Latitude: s.currentLat, Longitude: s.currentLon})
		if cfg.Secondary {
			if err := write(enc.WritePosition(s.position(now, secondaryDescriptor, secondaryOffset))); err != nil {
				return sum, err
			}
		}
		if err := write(enc.WriteAttitude(s.attitude(now))); err != nil {
			return sum, err
		}
		if err := write(enc.WriteXYZ(s.ping(now))); err != nil {
			return sum, err
		}
		sum.Pings++
	}
	sum.Bytes = enc.Written()
	return sum, nil
}

func (s *Survey) position(t time.Time, descriptor byte, offset float64) kongsberg.Position {
	return kongsberg.Position{
		Time:       t,
		Descriptor: descriptor,
		Latitude:   s.currentLat + offset,
		Longitude:  s.currentLon + offset,
		Quality:    1.2,
		Speed:      s.currentSpeed * mpsPerKnot,
		Course:     s.currentCourse,
		Heading:    s.currentCourse,
		Input:      []byte(GGA(Fix{Latitude: s.currentLat + offset, Longitude: s.currentLon + offset, Satellites: 10, Timestamp: t})),
	}
}

func (s *Survey) attitude(t time.Time) kongsberg.Attitude {
	phase := float64(t.UnixMilli()%8000) / 8000 * 2 * math.Pi
	return kongsberg.Attitude{
		Time: t,
		Entries: []kongsberg.AttitudeEntry{{
			Roll:    2 * math.Sin(phase),
			Pitch:   0.5 * math.Cos(phase),
			Heave:   0.2 * math.Sin(2*phase),
			Heading: s.currentCourse,
		}},
	}
}

// ping lays the beams of one swath on a gently undulating seafloor
func (s *Survey) ping(t time.Time) kongsberg.DepthPing {
	cfg := s.config
	depth := cfg.Depth + 2*math.Sin(Distance(cfg.Latitude, cfg.Longitude, s.currentLat, s.currentLon)/50)
	beams := make([]kongsberg.Beam, cfg.Beams)
	for i := range beams {
		angle := -swathAngle
		if cfg.Beams > 1 {
			angle += 2 * swathAngle * float64(i) / float64(cfg.Beams-1)
		}
		z := depth - transducerDepth + (s.rng.Float64()-0.5)*0.1
		beams[i] = kongsberg.Beam{
			Depth:       z,
			AcrossTrack: z * math.Tan(angle*math.Pi/180),
			Quality:     uint8(50 + s.rng.Intn(50)),
		}
	}
	return kongsberg.DepthPing{
		Time:            t,
		Heading:         s.currentCourse,
		SoundSpeed:      1500,
		TransducerDepth: transducerDepth,
		SampleRate:      15000,
		Beams:           beams,
	}
}

func (s *Survey) runtime(t time.Time) kongsberg.RuntimeParameters {
	return kongsberg.RuntimeParameters{
		Time:                  t,
		Mode:                  0x02,
		Filter:                0x01,
		MinimumDepth:          1,
		MaximumDepth:          math.Round(s.config.Depth * 3),
		AbsorptionCoefficient: 40,
		TransmitPulseLength:   200,
		TransmitBeamWidth:     1,
		ReceiveBeamWidth:      1,
		TVGCrossoverAngle:     25,
		MaximumPortWidth:      math.Round(s.config.Depth * 4),
		MaximumPortCoverage:   uint8(swathAngle),
		MaximumStbdCoverage:   uint8(swathAngle),
		MaximumStbdWidth:      math.Round(s.config.Depth * 4),
		Stabilisation:         0x80,
	}
}

// updateSpeedAndCourse applies jitter to speed and course
func (s *Survey) updateSpeedAndCourse() {
	var speedVariation, courseVariation float64
	jitter := s.config.Jitter

	switch {
	case jitter == 0.0:
		return
	case jitter < 0.2:
		speedVariation = 0.05
		courseVariation = 2.0
	case jitter < 0.7:
		speedVariation = 0.10 + (jitter-0.2)*0.40
		courseVariation = 5.0 + (jitter-0.2)*20.0
	default:
		speedVariation = 0.30 + (jitter-0.7)*0.67
		courseVariation = 15.0 + (jitter-0.7)*50.0
	}

	speedDelta := (s.rng.Float64() - 0.5) * 2 * s.config.Speed * speedVariation
	s.currentSpeed = math.Max(0, s.config.Speed+speedDelta)

	courseDelta := (s.rng.Float64() - 0.5) * 2 * courseVariation
	s.currentCourse = normalizeCourse(s.currentCourse + courseDelta)
}

// updatePosition advances the vessel by dt seconds. Leaving the survey
// radius turns the vessel back towards the centre, like the end of a line.
func (s *Survey) updatePosition(dt float64) {
	distance := s.currentSpeed * mpsPerKnot * dt
	newLat, newLon := Destination(s.currentLat, s.currentLon, distance, s.currentCourse)

	if Distance(s.config.Latitude, s.config.Longitude, newLat, newLon) > s.config.Radius {
		s.currentCourse = normalizeCourse(Bearing(newLat, newLon, s.config.Latitude, s.config.Longitude) +
			(s.rng.Float64()-0.5)*30.0)
		newLat, newLon = Destination(s.currentLat, s.currentLon, distance, s.currentCourse)
	}

	s.currentLat = newLat
	s.currentLon = newLon
}
