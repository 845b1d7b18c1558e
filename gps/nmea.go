package gps

import (
	"fmt"
	"math"
	"time"
)

// calculateChecksum calculates the NMEA checksum for a sentence
func calculateChecksum(sentence string) string {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// formatNMEA formats a complete NMEA sentence with checksum
func formatNMEA(sentence string) string {
	return fmt.Sprintf("%s*%s\r\n", sentence, calculateChecksum(sentence))
}

// dm splits a coordinate into whole degrees, minutes and hemisphere
func dm(v float64, pos, neg string) (int, float64, string) {
	hem := pos
	if v < 0 {
		hem = neg
	}
	deg := int(math.Abs(v))
	return deg, (math.Abs(v) - float64(deg)) * 60, hem
}

func hhmmssss(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/10000000)
}

// GGA returns a GGA (Global Positioning System Fix Data) sentence
func GGA(f Fix) string {
	latDeg, latMin, latHem := dm(f.Latitude, "N", "S")
	lonDeg, lonMin, lonHem := dm(f.Longitude, "E", "W")

	sentence := fmt.Sprintf("$GPGGA,%s,%02d%07.4f,%s,%03d%07.4f,%s,1,%02d,1.2,%.1f,M,0.0,M,,",
		f.Timestamp.UTC().Format("150405"),
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		f.Satellites, f.Altitude)
	return formatNMEA(sentence)
}

// RMC returns an RMC (Recommended Minimum) sentence
func RMC(f Fix) string {
	latDeg, latMin, latHem := dm(f.Latitude, "N", "S")
	lonDeg, lonMin, lonHem := dm(f.Longitude, "E", "W")
	ts := f.Timestamp.UTC()

	sentence := fmt.Sprintf("$GPRMC,%s,A,%02d%07.4f,%s,%03d%07.4f,%s,%.1f,%.1f,%s,,,A",
		ts.Format("150405"),
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		f.Speed, f.Course, ts.Format("020106"))
	return formatNMEA(sentence)
}

// GLL returns a GLL (Geographic Position - Latitude/Longitude) sentence
func GLL(f Fix) string {
	latDeg, latMin, latHem := dm(f.Latitude, "N", "S")
	lonDeg, lonMin, lonHem := dm(f.Longitude, "E", "W")

	sentence := fmt.Sprintf("$GPGLL,%02d%07.4f,%s,%03d%07.4f,%s,%s,A,A",
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		hhmmssss(f.Timestamp))
	return formatNMEA(sentence)
}

// VTG returns a VTG (Track Made Good and Ground Speed) sentence. Magnetic
// course is left empty.
func VTG(f Fix) string {
	// 1 knot = 1.852 km/h
	sentence := fmt.Sprintf("$GPVTG,%.1f,T,,M,%.1f,N,%.1f,K,A", f.Course, f.Speed, f.Speed*1.852)
	return formatNMEA(sentence)
}

// ZDA returns a ZDA (UTC Date and Time) sentence
func ZDA(f Fix) string {
	ts := f.Timestamp.UTC()
	sentence := fmt.Sprintf("$GPZDA,%s,%02d,%02d,%04d,00,00",
		hhmmssss(ts), ts.Day(), int(ts.Month()), ts.Year())
	return formatNMEA(sentence)
}

// Sentences returns the full set of sentences emitted for one fix
func Sentences(f Fix) []string {
	return []string{GGA(f), RMC(f), GLL(f), VTG(f), ZDA(f)}
}
