package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBursts(t *testing.T, bursts ...[]RawAircraftRecord) []byte {
	t.Helper()
	var sink bytes.Buffer
	enc := NewEncoder(&sink)
	for _, b := range bursts {
		_, err := enc.WriteBurst(context.Background(), b)
		require.NoError(t, err)
	}
	return sink.Bytes()
}

// TestUnmarshalRecord_RoundTrip tests that decoding recovers the normalized values
func TestUnmarshalRecord_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  RawAircraftRecord
	}{
		{"Reference record", sampleRecord()},
		{"All absent", RawAircraftRecord{}},
		{"Negative values", RawAircraftRecord{
			Callsign:    strPtr("RYR8XK"),
			Longitude:   floatPtr(-0.4543),
			Latitude:    floatPtr(-33.9399),
			GeoAltitude: floatPtr(-12.5),
			Velocity:    floatPtr(0),
			TrueTrack:   floatPtr(359.9999),
		}},
		{"Eight character callsign", RawAircraftRecord{Callsign: strPtr("ABCDEFGH")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize(tt.raw)
			wire, err := MarshalRecord(n, OverflowReject)
			require.NoError(t, err)

			decoded, err := UnmarshalRecord(wire[:])
			require.NoError(t, err)
			assert.Equal(t, n, decoded)
		})
	}
}

// TestUnmarshalRecord_Values tests the reverse scaling of the reference record
func TestUnmarshalRecord_Values(t *testing.T) {
	wire, err := MarshalRecord(Normalize(sampleRecord()), OverflowReject)
	require.NoError(t, err)

	n, err := UnmarshalRecord(wire[:])
	require.NoError(t, err)

	v := n.Values()
	assert.Equal(t, "AAL123", v.Callsign)
	assert.InDelta(t, -82.3533, v.Longitude, 1e-9)
	assert.InDelta(t, 29.6465, v.Latitude, 1e-9)
	assert.InDelta(t, 10000.0, v.GeoAltitude, 1e-9)
	assert.InDelta(t, 250.5, v.Velocity, 1e-9)
	assert.InDelta(t, 90.0, v.TrueTrack, 1e-9)
	assert.Contains(t, v.String(), "AAL123")
}

// TestUnmarshalRecord_Short tests rejection of truncated input
func TestUnmarshalRecord_Short(t *testing.T) {
	_, err := UnmarshalRecord(make([]byte, WireRecordSize-1))
	assert.Error(t, err)
}

// TestDecoder_Bursts tests reassembly of consecutive bursts
func TestDecoder_Bursts(t *testing.T) {
	stream := encodeBursts(t,
		[]RawAircraftRecord{sampleRecord(), {Callsign: strPtr("DAL7")}},
		nil,
		[]RawAircraftRecord{{}},
	)

	d := NewDecoder(quietLogger())
	bursts := d.Feed(stream)

	require.Len(t, bursts, 3)
	require.Len(t, bursts[0].Records, 2)
	assert.Equal(t, "AAL123  ", bursts[0].Records[0].CallsignString())
	assert.Equal(t, "DAL7    ", bursts[0].Records[1].CallsignString())
	assert.Empty(t, bursts[1].Records)
	require.Len(t, bursts[2].Records, 1)
	assert.Equal(t, "N/A     ", bursts[2].Records[0].CallsignString())

	records, partial := d.Pending()
	assert.Equal(t, 0, records)
	assert.Equal(t, 0, partial)
	assert.Equal(t, 0, d.Resyncs())
}

// TestDecoder_ByteAtATime tests that arbitrary chunking gives the same result
func TestDecoder_ByteAtATime(t *testing.T) {
	stream := encodeBursts(t,
		[]RawAircraftRecord{sampleRecord(), sampleRecord(), sampleRecord()},
		[]RawAircraftRecord{{Callsign: strPtr("UAL1")}},
	)

	d := NewDecoder(nil)
	var bursts []Burst
	for i := range stream {
		bursts = append(bursts, d.Feed(stream[i:i+1])...)
	}

	require.Len(t, bursts, 2)
	assert.Len(t, bursts[0].Records, 3)
	assert.Len(t, bursts[1].Records, 1)
}

// TestDecoder_PartialRecord tests that an incomplete trailing record is kept
func TestDecoder_PartialRecord(t *testing.T) {
	stream := encodeBursts(t, []RawAircraftRecord{sampleRecord(), sampleRecord()})
	cut := WireRecordSize + 10

	d := NewDecoder(nil)
	assert.Empty(t, d.Feed(stream[:cut]))

	records, partial := d.Pending()
	assert.Equal(t, 1, records)
	assert.Equal(t, 10, partial)

	bursts := d.Feed(stream[cut:])
	require.Len(t, bursts, 1)
	assert.Len(t, bursts[0].Records, 2)
}

// TestDecoder_Resync tests recovery after garbage on the link
func TestDecoder_Resync(t *testing.T) {
	garbage := []byte{0x80, 0x01, 0x02, 0x03, 0x04, 0x05}
	good := encodeBursts(t, []RawAircraftRecord{sampleRecord()})

	// Garbage, then a marker closing the corrupted burst, then a clean burst
	stream := append([]byte{}, garbage...)
	stream = append(stream, 0xFF, 0xFF, 0xFF, 0xFF)
	stream = append(stream, good...)

	d := NewDecoder(quietLogger())
	bursts := d.Feed(stream)

	require.Len(t, bursts, 2)
	assert.Empty(t, bursts[0].Records)
	require.Len(t, bursts[1].Records, 1)
	assert.Equal(t, "AAL123  ", bursts[1].Records[0].CallsignString())
	assert.Equal(t, 1, d.Resyncs())
}
