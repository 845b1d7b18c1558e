package kongsberg

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Writer encodes datagrams into the .all byte stream. It is used to
// produce synthetic survey files.
type Writer struct {
	w       io.Writer
	model   uint16
	serial  uint16
	counter uint16
	written int64
}

// NewWriter returns a writer tagging every datagram with the given EM
// model and system serial number.
func NewWriter(w io.Writer, model, serial uint16) *Writer {
	return &Writer{w: w, model: model, serial: serial}
}

// Written returns the number of bytes written so far
func (w *Writer) Written() int64 {
	return w.written
}

// WriteRaw frames body as a datagram of type typ stamped with t.
func (w *Writer) WriteRaw(typ byte, t time.Time, body []byte) error {
	length := headerSize + len(body) + trailerSize
	buf := make([]byte, lengthFieldSize+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))

	date, ms := DateFields(t)
	if t.IsZero() {
		date, ms = 0, 0
	}
	h := buf[lengthFieldSize:]
	h[0] = stx
	h[1] = typ
	binary.LittleEndian.PutUint16(h[2:4], w.model)
	binary.LittleEndian.PutUint32(h[4:8], date)
	binary.LittleEndian.PutUint32(h[8:12], ms)
	binary.LittleEndian.PutUint16(h[12:14], w.counter)
	binary.LittleEndian.PutUint16(h[14:16], w.serial)
	copy(h[headerSize:], body)

	end := headerSize + len(body)
	h[end] = etx
	binary.LittleEndian.PutUint16(h[end+1:], checksum(h[1:end]))

	n, err := w.w.Write(buf)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write %q datagram: %w", typ, err)
	}
	w.counter++
	return nil
}

// WritePosition encodes a 'P' datagram
func (w *Writer) WritePosition(p Position) error {
	if len(p.Input) > math.MaxUint8 {
		return fmt.Errorf("position input of %d bytes does not fit the datagram", len(p.Input))
	}
	b := make([]byte, positionBody+len(p.Input))
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(math.Round(p.Latitude/latLonScale))))
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(math.Round(p.Longitude/latLonScale))))
	binary.LittleEndian.PutUint16(b[8:10], unsignedCenti(p.Quality))
	binary.LittleEndian.PutUint16(b[10:12], unsignedCenti(p.Speed))
	binary.LittleEndian.PutUint16(b[12:14], unsignedCenti(p.Course))
	binary.LittleEndian.PutUint16(b[14:16], unsignedCenti(p.Heading))
	b[16] = p.Descriptor
	b[17] = uint8(len(p.Input))
	copy(b[positionBody:], p.Input)
	return w.WriteRaw(TypePosition, p.Time, b)
}

// WriteAttitude encodes an 'A' datagram
func (w *Writer) WriteAttitude(a Attitude) error {
	b := make([]byte, 2+len(a.Entries)*attEntrySize+1)
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(a.Entries)))
	for i, e := range a.Entries {
		o := b[2+i*attEntrySize:]
		binary.LittleEndian.PutUint16(o[0:2], e.TimeOffsetMs)
		binary.LittleEndian.PutUint16(o[2:4], e.Status)
		binary.LittleEndian.PutUint16(o[4:6], uint16(signedCenti(e.Roll)))
		binary.LittleEndian.PutUint16(o[6:8], uint16(signedCenti(e.Pitch)))
		binary.LittleEndian.PutUint16(o[8:10], uint16(signedCenti(e.Heave)))
		binary.LittleEndian.PutUint16(o[10:12], unsignedCenti(e.Heading))
	}
	b[len(b)-1] = a.Descriptor
	return w.WriteRaw(TypeAttitude, a.Time, b)
}

// WriteXYZ encodes an 'X' datagram
func (w *Writer) WriteXYZ(p DepthPing) error {
	b := make([]byte, xyzBody+len(p.Beams)*xyzBeamSize)
	binary.LittleEndian.PutUint16(b[0:2], unsignedCenti(p.Heading))
	binary.LittleEndian.PutUint16(b[2:4], uint16(math.Round(p.SoundSpeed/tenthScale)))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(float32(p.TransducerDepth)))
	binary.LittleEndian.PutUint16(b[8:10], uint16(len(p.Beams)))
	binary.LittleEndian.PutUint16(b[10:12], uint16(len(p.Beams)))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(float32(p.SampleRate)))
	for i, beam := range p.Beams {
		o := b[xyzBody+i*xyzBeamSize:]
		binary.LittleEndian.PutUint32(o[0:4], math.Float32bits(float32(beam.Depth)))
		binary.LittleEndian.PutUint32(o[4:8], math.Float32bits(float32(beam.AcrossTrack)))
		binary.LittleEndian.PutUint32(o[8:12], math.Float32bits(float32(beam.AlongTrack)))
		o[14] = beam.Quality
	}
	return w.WriteRaw(TypeXYZ, p.Time, b)
}

// WriteDepth encodes a legacy 'D' datagram with 1 cm depth and
// across-track resolution.
func (w *Writer) WriteDepth(p DepthPing) error {
	if len(p.Beams) > math.MaxUint8 {
		return fmt.Errorf("legacy depth datagram holds at most %d beams, got %d", math.MaxUint8, len(p.Beams))
	}
	b := make([]byte, depthBody+len(p.Beams)*depthBeam)
	binary.LittleEndian.PutUint16(b[0:2], unsignedCenti(p.Heading))
	binary.LittleEndian.PutUint16(b[2:4], uint16(math.Round(p.SoundSpeed/tenthScale)))
	binary.LittleEndian.PutUint16(b[4:6], unsignedCenti(p.TransducerDepth))
	b[6] = uint8(len(p.Beams))
	b[7] = uint8(len(p.Beams))
	b[8] = 1
	b[9] = 1
	binary.LittleEndian.PutUint16(b[10:12], uint16(p.SampleRate))
	for i, beam := range p.Beams {
		o := b[depthBody+i*depthBeam:]
		binary.LittleEndian.PutUint16(o[0:2], unsignedCenti(beam.Depth))
		binary.LittleEndian.PutUint16(o[2:4], uint16(signedCenti(beam.AcrossTrack)))
		binary.LittleEndian.PutUint16(o[4:6], uint16(signedCenti(beam.AlongTrack)))
		o[12] = beam.Quality
		o[15] = uint8(i + 1)
	}
	return w.WriteRaw(TypeDepth, p.Time, b)
}

// WriteRuntime encodes an 'R' datagram
func (w *Writer) WriteRuntime(r RuntimeParameters) error {
	b := make([]byte, runtimeBody)
	put16 := func(i int, v float64) { binary.LittleEndian.PutUint16(b[i:i+2], uint16(math.Round(v))) }
	b[0] = r.OperatorStationStatus
	b[1] = r.ProcessingUnitStatus
	b[2] = r.BSPStatus
	b[3] = r.SonarHeadStatus
	b[4] = r.Mode
	b[5] = r.Filter
	put16(6, r.MinimumDepth)
	put16(8, r.MaximumDepth)
	put16(10, r.AbsorptionCoefficient/centiScale)
	put16(12, r.TransmitPulseLength)
	put16(14, r.TransmitBeamWidth/tenthScale)
	b[16] = uint8(r.TransmitPowerReMax)
	b[17] = uint8(math.Round(r.ReceiveBeamWidth / tenthScale))
	b[18] = uint8(math.Round(r.ReceiveBandwidth / bandwidthHz))
	b[19] = r.ReceiverFixedGain
	b[20] = r.TVGCrossoverAngle
	b[21] = r.SoundSpeedSource
	put16(22, r.MaximumPortWidth)
	b[24] = r.BeamSpacing
	b[25] = r.MaximumPortCoverage
	b[26] = r.Stabilisation
	b[27] = r.MaximumStbdCoverage
	put16(28, r.MaximumStbdWidth)
	binary.LittleEndian.PutUint16(b[30:32], uint16(int16(math.Round(r.TransmitAlongTilt/tenthScale))))
	b[32] = r.Filter2
	return w.WriteRaw(TypeRuntime, r.Time, b)
}

func unsignedCenti(v float64) uint16 {
	return uint16(math.Round(v / centiScale))
}

func signedCenti(v float64) int16 {
	return int16(math.Round(v / centiScale))
}
