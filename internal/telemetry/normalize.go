package telemetry

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Normalize fills in defaults and clips a raw record to the wire widths.
// It never fails.
func Normalize(raw RawAircraftRecord) NormalizedRecord {
	var n NormalizedRecord

	callsign := MissingCallsign
	if raw.Callsign != nil {
		callsign = *raw.Callsign
	}
	n.Callsign = shapeCallsign(callsign)

	n.Longitude = scale(raw.Longitude)
	n.Latitude = scale(raw.Latitude)
	n.GeoAltitude = scale(raw.GeoAltitude)
	n.Velocity = scale(raw.Velocity)
	n.TrueTrack = scale(raw.TrueTrack)

	return n
}

// shapeCallsign trims, keeps the first 8 characters, drops anything that is
// not 7-bit ASCII and pads with spaces.
func shapeCallsign(s string) [CallsignLength]byte {
	var out [CallsignLength]byte

	s = strings.TrimSpace(s)

	pos := 0
	chars := 0
	for _, r := range s {
		if chars == CallsignLength {
			break
		}
		chars++
		if r >= utf8.RuneSelf {
			continue
		}
		out[pos] = byte(r)
		pos++
	}

	for ; pos < CallsignLength; pos++ {
		out[pos] = ' '
	}
	return out
}

// scale converts a reading to fixed point, truncating toward zero.
func scale(v *float64) int64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}

	t := math.Trunc(*v * FixedPointScale)
	switch {
	case t >= math.MaxInt64:
		return math.MaxInt64
	case t <= math.MinInt64:
		return math.MinInt64
	}
	return int64(t)
}
