// Package gps turns extracted survey tracks into the formats GPS consumers
// understand: GPX documents, NMEA 0183 sentence streams and PNG plots. It
// also simulates survey lines as synthetic .all files.
package gps

import "time"

// Fix is one vessel position as seen by an NMEA consumer
type Fix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Speed      float64   `json:"speed"`  // knots
	Course     float64   `json:"course"` // degrees
	Satellites int       `json:"satellites"`
	Timestamp  time.Time `json:"timestamp"`
}

// NMEAData contains the sentences emitted for one fix
type NMEAData struct {
	Track     string    `json:"track"`
	Index     int       `json:"index"`
	Sentences []string  `json:"sentences"`
	Fix       Fix       `json:"fix"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplayStatus is a snapshot of a running replay
type ReplayStatus struct {
	Running   bool      `json:"running"`
	Track     string    `json:"track"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Completed bool      `json:"completed"`
	Loops     int       `json:"loops"`
	StartTime time.Time `json:"start_time,omitempty"`
}
