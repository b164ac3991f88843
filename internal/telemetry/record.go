package telemetry

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Wire format constants
const (
	CallsignLength   = 8          // Padded callsign width in bytes
	FieldCount       = 7          // 32-bit slots per record
	WireRecordSize   = 28         // 2 callsign words + 5 fixed-point values
	MarkerSize       = 4          // End-of-burst marker width
	EndOfBurstMarker = 0xFFFFFFFF // Written once after the last record of a cycle
	FixedPointScale  = 10000      // 4 decimal digits of precision
	MissingCallsign  = "N/A"      // Substituted when the source has no callsign
)

// RawAircraftRecord is one aircraft state as delivered by the data provider.
// A nil pointer means the provider did not report the field.
type RawAircraftRecord struct {
	ICAO24      string
	Callsign    *string
	Longitude   *float64
	Latitude    *float64
	GeoAltitude *float64
	Velocity    *float64
	TrueTrack   *float64
}

// NormalizedRecord is a fully defaulted record ready for packing.
// Numeric fields hold value*FixedPointScale truncated toward zero. They are
// kept 64 bits wide so the encoder can apply its int32 overflow policy.
type NormalizedRecord struct {
	Callsign    [CallsignLength]byte
	Longitude   int64
	Latitude    int64
	GeoAltitude int64
	Velocity    int64
	TrueTrack   int64
}

// CallsignString returns the padded callsign as text.
func (n NormalizedRecord) CallsignString() string {
	return string(n.Callsign[:])
}

// Values reverses the fixed-point scale.
func (n NormalizedRecord) Values() Values {
	return Values{
		Callsign:    strings.TrimRight(n.CallsignString(), " "),
		Longitude:   float64(n.Longitude) / FixedPointScale,
		Latitude:    float64(n.Latitude) / FixedPointScale,
		GeoAltitude: float64(n.GeoAltitude) / FixedPointScale,
		Velocity:    float64(n.Velocity) / FixedPointScale,
		TrueTrack:   float64(n.TrueTrack) / FixedPointScale,
	}
}

// Values is a decoded record in natural units.
type Values struct {
	Callsign    string
	Longitude   float64
	Latitude    float64
	GeoAltitude float64
	Velocity    float64
	TrueTrack   float64
}

func (v Values) String() string {
	return fmt.Sprintf("%-8s lon=%.4f lat=%.4f alt=%.4f vel=%.4f trk=%.4f",
		v.Callsign, v.Longitude, v.Latitude, v.GeoAltitude, v.Velocity, v.TrueTrack)
}

// packCallsignWord loads four ASCII bytes as a little-endian uint32.
func packCallsignWord(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// unpackCallsignWord is the inverse of packCallsignWord.
func unpackCallsignWord(w uint32, dst []byte) {
	dst[0] = byte(w)
	dst[1] = byte(w >> 8)
	dst[2] = byte(w >> 16)
	dst[3] = byte(w >> 24)
}

// UnmarshalRecord decodes one 28-byte wire record.
func UnmarshalRecord(data []byte) (NormalizedRecord, error) {
	if len(data) < WireRecordSize {
		return NormalizedRecord{}, fmt.Errorf("record too short: %d bytes", len(data))
	}

	var n NormalizedRecord
	unpackCallsignWord(binary.LittleEndian.Uint32(data[0:4]), n.Callsign[0:4])
	unpackCallsignWord(binary.LittleEndian.Uint32(data[4:8]), n.Callsign[4:8])

	n.Longitude = int64(int32(binary.LittleEndian.Uint32(data[8:12])))
	n.Latitude = int64(int32(binary.LittleEndian.Uint32(data[12:16])))
	n.GeoAltitude = int64(int32(binary.LittleEndian.Uint32(data[16:20])))
	n.Velocity = int64(int32(binary.LittleEndian.Uint32(data[20:24])))
	n.TrueTrack = int64(int32(binary.LittleEndian.Uint32(data[24:28])))

	return n, nil
}
