package kongsberg

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed-point scale factors
const (
	latLonScale  = 1e-7
	centiScale   = 1e-2
	tenthScale   = 1e-1
	bandwidthHz  = 50.0
	positionBody = 18
	attEntrySize = 12
	xyzBody      = 20
	xyzBeamSize  = 20
	depthBody    = 12
	depthBeam    = 16
	runtimeBody  = 33
)

// Datagram is one framed record. Fields are decoded only when one of the
// accessors is called, so records that are not needed cost a single read.
type Datagram struct {
	Header
	Offset int64 // byte offset of the length field in the file

	path string
	raw  []byte // STX through checksum
}

// body returns the bytes between the fixed header and the ETX trailer
func (d Datagram) body() []byte {
	return d.raw[headerSize : len(d.raw)-trailerSize]
}

// ChecksumOK reports whether the stored checksum matches the sum of the
// bytes between STX and ETX.
func (d Datagram) ChecksumOK() bool {
	n := len(d.raw)
	if d.raw[n-trailerSize] != etx {
		return false
	}
	want := binary.LittleEndian.Uint16(d.raw[n-2:])
	return checksum(d.raw[1:n-trailerSize]) == want
}

func checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

func (d Datagram) truncated(kind string, need, have int) error {
	return &FormatError{
		Path:   d.path,
		Offset: d.Offset,
		Reason: fmt.Sprintf("%s datagram body needs %d bytes, has %d", kind, need, have),
		Err:    ErrTruncated,
	}
}

func (d Datagram) expect(types ...byte) error {
	for _, t := range types {
		if d.Type == t {
			return nil
		}
	}
	return fmt.Errorf("%w: have %q", ErrWrongType, d.Type)
}

// Decode returns the typed record for the datagram. Types that are not
// decoded come back as Other.
func (d Datagram) Decode() (Record, error) {
	switch d.Type {
	case TypePosition:
		return d.Position()
	case TypeAttitude:
		return d.Attitude()
	case TypeXYZ, TypeDepth:
		return d.Depth()
	case TypeRuntime:
		return d.RuntimeParameters()
	}
	return Other{Type: d.Type, Time: d.Time()}, nil
}

// Position decodes a 'P' datagram
func (d Datagram) Position() (Position, error) {
	if err := d.expect(TypePosition); err != nil {
		return Position{}, err
	}
	b := d.body()
	if len(b) < positionBody {
		return Position{}, d.truncated("position", positionBody, len(b))
	}
	p := Position{
		Time:       d.Time(),
		Latitude:   float64(int32(binary.LittleEndian.Uint32(b[0:4]))) * latLonScale,
		Longitude:  float64(int32(binary.LittleEndian.Uint32(b[4:8]))) * latLonScale,
		Quality:    float64(binary.LittleEndian.Uint16(b[8:10])) * centiScale,
		Speed:      float64(binary.LittleEndian.Uint16(b[10:12])) * centiScale,
		Course:     float64(binary.LittleEndian.Uint16(b[12:14])) * centiScale,
		Heading:    float64(binary.LittleEndian.Uint16(b[14:16])) * centiScale,
		Descriptor: b[16],
	}
	n := int(b[17])
	if rest := b[positionBody:]; n > 0 && n <= len(rest) {
		p.Input = append([]byte(nil), rest[:n]...)
	}
	return p, nil
}

// Attitude decodes an 'A' datagram
func (d Datagram) Attitude() (Attitude, error) {
	if err := d.expect(TypeAttitude); err != nil {
		return Attitude{}, err
	}
	b := d.body()
	if len(b) < 2 {
		return Attitude{}, d.truncated("attitude", 2, len(b))
	}
	count := int(binary.LittleEndian.Uint16(b[0:2]))
	need := 2 + count*attEntrySize
	if len(b) < need {
		return Attitude{}, d.truncated("attitude", need, len(b))
	}
	a := Attitude{Time: d.Time(), Entries: make([]AttitudeEntry, count)}
	for i := range a.Entries {
		e := b[2+i*attEntrySize:]
		a.Entries[i] = AttitudeEntry{
			TimeOffsetMs: binary.LittleEndian.Uint16(e[0:2]),
			Status:       binary.LittleEndian.Uint16(e[2:4]),
			Roll:         float64(int16(binary.LittleEndian.Uint16(e[4:6]))) * centiScale,
			Pitch:        float64(int16(binary.LittleEndian.Uint16(e[6:8]))) * centiScale,
			Heave:        float64(int16(binary.LittleEndian.Uint16(e[8:10]))) * centiScale,
			Heading:      float64(binary.LittleEndian.Uint16(e[10:12])) * centiScale,
		}
	}
	if len(b) > need {
		a.Descriptor = b[need]
	}
	return a, nil
}

// Depth decodes an 'X' (XYZ 88) or legacy 'D' datagram
func (d Datagram) Depth() (DepthPing, error) {
	if err := d.expect(TypeXYZ, TypeDepth); err != nil {
		return DepthPing{}, err
	}
	if d.Type == TypeXYZ {
		return d.xyz()
	}
	return d.legacyDepth()
}

func (d Datagram) xyz() (DepthPing, error) {
	b := d.body()
	if len(b) < xyzBody {
		return DepthPing{}, d.truncated("XYZ", xyzBody, len(b))
	}
	count := int(binary.LittleEndian.Uint16(b[8:10]))
	p := DepthPing{
		Time:            d.Time(),
		Kind:            TypeXYZ,
		Heading:         float64(binary.LittleEndian.Uint16(b[0:2])) * centiScale,
		SoundSpeed:      float64(binary.LittleEndian.Uint16(b[2:4])) * tenthScale,
		TransducerDepth: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))),
		SampleRate:      float64(math.Float32frombits(binary.LittleEndian.Uint32(b[12:16]))),
	}
	if count == 0 {
		return p, nil
	}
	need := xyzBody + count*xyzBeamSize
	if len(b) < need {
		return DepthPing{}, d.truncated("XYZ", need, len(b))
	}
	p.Beams = make([]Beam, count)
	for i := range p.Beams {
		e := b[xyzBody+i*xyzBeamSize:]
		p.Beams[i] = Beam{
			Depth:       float64(math.Float32frombits(binary.LittleEndian.Uint32(e[0:4]))),
			AcrossTrack: float64(math.Float32frombits(binary.LittleEndian.Uint32(e[4:8]))),
			AlongTrack:  float64(math.Float32frombits(binary.LittleEndian.Uint32(e[8:12]))),
			Quality:     e[14],
		}
	}
	return p, nil
}

func (d Datagram) legacyDepth() (DepthPing, error) {
	b := d.body()
	if len(b) < depthBody {
		return DepthPing{}, d.truncated("depth", depthBody, len(b))
	}
	count := int(b[7])
	zres := float64(b[8]) * centiScale
	xyres := float64(b[9]) * centiScale
	p := DepthPing{
		Time:            d.Time(),
		Kind:            TypeDepth,
		Heading:         float64(binary.LittleEndian.Uint16(b[0:2])) * centiScale,
		SoundSpeed:      float64(binary.LittleEndian.Uint16(b[2:4])) * tenthScale,
		TransducerDepth: float64(binary.LittleEndian.Uint16(b[4:6])) * centiScale,
		SampleRate:      float64(binary.LittleEndian.Uint16(b[10:12])),
	}
	if count == 0 {
		return p, nil
	}
	need := depthBody + count*depthBeam
	if len(b) < need {
		return DepthPing{}, d.truncated("depth", need, len(b))
	}
	p.Beams = make([]Beam, count)
	for i := range p.Beams {
		e := b[depthBody+i*depthBeam:]
		p.Beams[i] = Beam{
			Depth:       float64(binary.LittleEndian.Uint16(e[0:2])) * zres,
			AcrossTrack: float64(int16(binary.LittleEndian.Uint16(e[2:4]))) * xyres,
			AlongTrack:  float64(int16(binary.LittleEndian.Uint16(e[4:6]))) * xyres,
			Quality:     e[12],
		}
	}
	return p, nil
}

// RuntimeParameters decodes an 'R' datagram
func (d Datagram) RuntimeParameters() (RuntimeParameters, error) {
	if err := d.expect(TypeRuntime); err != nil {
		return RuntimeParameters{}, err
	}
	b := d.body()
	if len(b) < runtimeBody {
		return RuntimeParameters{}, d.truncated("runtime", runtimeBody, len(b))
	}
	u16 := func(i int) float64 { return float64(binary.LittleEndian.Uint16(b[i : i+2])) }
	return RuntimeParameters{
		Time:                  d.Time(),
		OperatorStationStatus: b[0],
		ProcessingUnitStatus:  b[1],
		BSPStatus:             b[2],
		SonarHeadStatus:       b[3],
		Mode:                  b[4],
		Filter:                b[5],
		MinimumDepth:          u16(6),
		MaximumDepth:          u16(8),
		AbsorptionCoefficient: u16(10) * centiScale,
		TransmitPulseLength:   u16(12),
		TransmitBeamWidth:     u16(14) * tenthScale,
		TransmitPowerReMax:    int8(b[16]),
		ReceiveBeamWidth:      float64(b[17]) * tenthScale,
		ReceiveBandwidth:      float64(b[18]) * bandwidthHz,
		ReceiverFixedGain:     b[19],
		TVGCrossoverAngle:     b[20],
		SoundSpeedSource:      b[21],
		MaximumPortWidth:      u16(22),
		BeamSpacing:           b[24],
		MaximumPortCoverage:   b[25],
		Stabilisation:         b[26],
		MaximumStbdCoverage:   b[27],
		MaximumStbdWidth:      u16(28),
		TransmitAlongTilt:     float64(int16(binary.LittleEndian.Uint16(b[30:32]))) * tenthScale,
		Filter2:               b[32],
	}, nil
}
