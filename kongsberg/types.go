// Package kongsberg reads and writes the datagrams of Kongsberg .all
// multibeam echo sounder logs that matter for track extraction.
package kongsberg

import (
	"fmt"
	"time"
)

// Datagram type tags
const (
	TypeAttitude byte = 'A'
	TypeDepth    byte = 'D' // legacy depth datagram
	TypePosition byte = 'P'
	TypeRuntime  byte = 'R'
	TypeXYZ      byte = 'X' // XYZ 88
)

// Header is the fixed part shared by every datagram
type Header struct {
	Length  uint32 // bytes following the length field, STX through checksum
	Type    byte
	Model   uint16 // EM model number
	Date    uint32 // YYYYMMDD
	TimeMs  uint32 // milliseconds since midnight
	Counter uint16
	Serial  uint16
}

// Time combines the header date and time of day into one UTC instant.
// A zero date yields the zero time.
func (h Header) Time() time.Time {
	if h.Date == 0 {
		return time.Time{}
	}
	year := int(h.Date / 10000)
	month := time.Month(h.Date / 100 % 100)
	day := int(h.Date % 100)
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(h.TimeMs) * time.Millisecond)
}

// DateFields splits t into the header date and milliseconds since midnight.
func DateFields(t time.Time) (date uint32, timeMs uint32) {
	t = t.UTC()
	date = uint32(t.Year()*10000 + int(t.Month())*100 + t.Day())
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	timeMs = uint32(t.Sub(midnight) / time.Millisecond)
	return date, timeMs
}

// Record is one decoded datagram. The concrete type is one of Position,
// Attitude, DepthPing, RuntimeParameters or Other.
type Record interface {
	RecordType() byte
}

// Position is a decoded 'P' datagram
type Position struct {
	Time       time.Time
	Descriptor byte    // identifies the positioning system
	Latitude   float64 // decimal degrees
	Longitude  float64 // decimal degrees
	Quality    float64 // fix quality
	Speed      float64 // speed over ground, m/s
	Course     float64 // course over ground, degrees
	Heading    float64 // degrees
	Input      []byte  // raw input sentence as received by the sounder
}

func (Position) RecordType() byte { return TypePosition }

// AttitudeEntry is one sample of an attitude datagram
type AttitudeEntry struct {
	TimeOffsetMs uint16 // since the record time
	Status       uint16
	Roll         float64 // degrees
	Pitch        float64 // degrees
	Heave        float64 // metres
	Heading      float64 // degrees
}

// Attitude is a decoded 'A' datagram
type Attitude struct {
	Time       time.Time
	Entries    []AttitudeEntry
	Descriptor byte
}

func (Attitude) RecordType() byte { return TypeAttitude }

// Beam is a single sounding of a depth ping
type Beam struct {
	Depth       float64 // metres below the transducer
	AcrossTrack float64 // metres
	AlongTrack  float64 // metres
	Quality     uint8
}

// DepthPing is a decoded 'X' or legacy 'D' datagram
type DepthPing struct {
	Time            time.Time
	Kind            byte
	Heading         float64 // degrees
	SoundSpeed      float64 // m/s at the transducer
	TransducerDepth float64 // metres
	SampleRate      float64 // Hz
	Beams           []Beam
}

func (p DepthPing) RecordType() byte { return p.Kind }

// BeamCount is the number of beams carried by the ping
func (p DepthPing) BeamCount() int {
	return len(p.Beams)
}

// OceanDepth is the nadir beam depth corrected by the transducer depth.
// It returns false for a ping without beams.
func (p DepthPing) OceanDepth() (float64, bool) {
	if len(p.Beams) == 0 {
		return 0, false
	}
	return p.Beams[len(p.Beams)/2].Depth + p.TransducerDepth, true
}

// RuntimeParameters is a decoded 'R' datagram. Only the fields needed for
// survey diagnostics are exposed in engineering units; Mode, Filter and
// Stabilisation keep their packed bit fields.
type RuntimeParameters struct {
	Time                  time.Time
	OperatorStationStatus uint8
	ProcessingUnitStatus  uint8
	BSPStatus             uint8
	SonarHeadStatus       uint8
	Mode                  uint8
	Filter                uint8
	MinimumDepth          float64 // metres
	MaximumDepth          float64 // metres
	AbsorptionCoefficient float64 // dB/km
	TransmitPulseLength   float64 // microseconds
	TransmitBeamWidth     float64 // degrees
	TransmitPowerReMax    int8    // dB
	ReceiveBeamWidth      float64 // degrees
	ReceiveBandwidth      float64 // Hz
	ReceiverFixedGain     uint8
	TVGCrossoverAngle     uint8 // degrees
	SoundSpeedSource      uint8
	MaximumPortWidth      float64 // metres
	BeamSpacing           uint8
	MaximumPortCoverage   uint8 // degrees
	Stabilisation         uint8
	MaximumStbdCoverage   uint8   // degrees
	MaximumStbdWidth      float64 // metres
	TransmitAlongTilt     float64 // degrees
	Filter2               uint8
}

func (RuntimeParameters) RecordType() byte { return TypeRuntime }

var depthModes = []string{"Very Shallow", "Shallow", "Medium", "Deep", "Very Deep", "Extra Deep"}

// DepthMode is the ping mode encoded in the low bits of Mode
func (r RuntimeParameters) DepthMode() string {
	m := int(r.Mode & 0x0F)
	if m < len(depthModes) {
		return depthModes[m]
	}
	return fmt.Sprintf("Mode %d", m)
}

// PulseForm is the transmit pulse form: CW, Mixed or FM
func (r RuntimeParameters) PulseForm() string {
	switch (r.Mode >> 4) & 0x03 {
	case 0:
		return "CW"
	case 1:
		return "Mixed"
	case 2:
		return "FM"
	}
	return "Unknown"
}

// DepthModeAndPulse joins depth mode and pulse form, e.g. "Deep+FM"
func (r RuntimeParameters) DepthModeAndPulse() string {
	return r.DepthMode() + "+" + r.PulseForm()
}

// DualSwath reports the dual swath mode: Off, Fixed or Dynamic
func (r RuntimeParameters) DualSwath() string {
	switch (r.Mode >> 6) & 0x03 {
	case 0:
		return "Off"
	case 1:
		return "Fixed"
	case 2:
		return "Dynamic"
	}
	return "Unknown"
}

// SpikeFilter reports the spike filter strength
func (r RuntimeParameters) SpikeFilter() string {
	return [...]string{"Off", "Weak", "Medium", "Strong"}[r.Filter&0x03]
}

// StabilisationMode describes yaw and pitch stabilisation
func (r RuntimeParameters) StabilisationMode() string {
	yaw := "none"
	switch r.Stabilisation & 0x03 {
	case 1:
		yaw = "relative to average heading"
	case 2:
		yaw = "relative to manual heading"
	case 3:
		yaw = "unknown"
	}
	pitch := "off"
	if r.Stabilisation&0x80 != 0 {
		pitch = "on"
	}
	return fmt.Sprintf("yaw %s, pitch %s", yaw, pitch)
}

// Other carries any datagram type that is not decoded
type Other struct {
	Type byte
	Time time.Time
}

func (o Other) RecordType() byte { return o.Type }
