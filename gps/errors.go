package gps

import "errors"

// Common errors returned by the replay and survey simulator
var (
	ErrInvalidSatelliteCount = errors.New("number of satellites must be between 4 and 12")
	ErrInvalidRadius         = errors.New("radius must be positive")
	ErrInvalidJitter         = errors.New("jitter must be between 0.0 and 1.0")
	ErrInvalidBaudRate       = errors.New("baud rate must be positive")
	ErrInvalidSpeed          = errors.New("speed must be non-negative")
	ErrInvalidCourse         = errors.New("course must be between 0.0 and 359.9 degrees")
	ErrInvalidReplaySpeed    = errors.New("replay speed must be positive")
	ErrInvalidRate           = errors.New("output rate must be positive")
	ErrInvalidDuration       = errors.New("survey duration must be positive")
	ErrInvalidBeams          = errors.New("beam count must be between 1 and 255")
	ErrInvalidDepth          = errors.New("water depth must be positive")
	ErrEmptyTrack            = errors.New("track has no points")
	ErrReplayAlreadyRunning  = errors.New("replay is already running")
	ErrNoTracks              = errors.New("no track points found")
)
