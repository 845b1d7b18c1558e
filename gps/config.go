package gps

import "time"

// ReplayConfig holds the options for streaming a track as NMEA
type ReplayConfig struct {
	Satellites int           // satellites reported in GGA
	Altitude   float64       // antenna altitude in meters, .all fixes carry none
	Rate       time.Duration // interval between fixes when timestamps are unusable
	Speed      float64       // replay speed multiplier (1.0 = real-time, 2.0 = 2x speed, etc.)
	Loop       bool          // start over after the last point
	SerialPort string        // serial port device (e.g., /dev/ttyUSB0, COM1)
	BaudRate   int
}

// DefaultReplayConfig returns a replay configuration with sensible defaults
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Satellites: 8,
		Altitude:   0,
		Rate:       time.Second,
		Speed:      1.0,
		BaudRate:   9600,
	}
}

// Validate checks if the configuration is valid and returns an error if not
func (c *ReplayConfig) Validate() error {
	if c.Satellites < 4 || c.Satellites > 12 {
		return ErrInvalidSatelliteCount
	}
	if c.Rate <= 0 {
		return ErrInvalidRate
	}
	if c.Speed <= 0.0 {
		return ErrInvalidReplaySpeed
	}
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	return nil
}

// SurveyConfig holds the options for simulating a survey line
type SurveyConfig struct {
	Name      string
	Latitude  float64
	Longitude float64
	Radius    float64 // in meters
	Jitter    float64 // course and speed jitter factor (0.0-1.0)
	Speed     float64 // vessel speed in knots
	Course    float64 // initial course in degrees (0-359)
	Start     time.Time
	Duration  time.Duration
	Interval  time.Duration // time between position fixes
	Beams     int           // beams per depth ping
	Depth     float64       // mean water depth in meters
	// Secondary adds a second positioning system on descriptor 2 with a
	// fixed offset, as on vessels logging two GNSS receivers.
	Secondary bool
	Model     uint16 // EM model number
	Serial    uint16
	Seed      int64
}

// DefaultSurveyConfig returns a survey configuration with sensible defaults
func DefaultSurveyConfig() SurveyConfig {
	return SurveyConfig{
		Name:      "0000_simulated.all",
		Latitude:  47.6062, // Puget Sound
		Longitude: -122.3321,
		Radius:    500.0,
		Jitter:    0.1,
		Speed:     5.0,
		Course:    90.0,
		Start:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Duration:  10 * time.Minute,
		Interval:  time.Second,
		Beams:     64,
		Depth:     40.0,
		Model:     710,
		Serial:    101,
		Seed:      1,
	}
}

// Validate checks if the configuration is valid and returns an error if not
func (c *SurveyConfig) Validate() error {
	if c.Radius <= 0 {
		return ErrInvalidRadius
	}
	if c.Jitter < 0.0 || c.Jitter > 1.0 {
		return ErrInvalidJitter
	}
	if c.Speed < 0.0 {
		return ErrInvalidSpeed
	}
	if c.Course < 0.0 || c.Course >= 360.0 {
		return ErrInvalidCourse
	}
	if c.Duration <= 0 {
		return ErrInvalidDuration
	}
	if c.Interval <= 0 {
		return ErrInvalidRate
	}
	if c.Beams < 1 || c.Beams > 255 {
		return ErrInvalidBeams
	}
	if c.Depth <= 0 {
		return ErrInvalidDepth
	}
	return nil
}
