package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportWrite is returned when the sink rejects or truncates a write.
	ErrTransportWrite = errors.New("transport write failed")
	// ErrEncodingOverflow is returned when a fixed-point value does not fit int32.
	ErrEncodingOverflow = errors.New("fixed-point value out of int32 range")
)

// OverflowPolicy selects how out-of-range fixed-point values are handled.
type OverflowPolicy int

const (
	// OverflowReject refuses to encode the record.
	OverflowReject OverflowPolicy = iota
	// OverflowSaturate clamps the value to the int32 bounds.
	OverflowSaturate
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowSaturate:
		return "saturate"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy parses "reject" or "saturate".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "reject", "":
		return OverflowReject, nil
	case "saturate":
		return OverflowSaturate, nil
	default:
		return OverflowReject, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// OverflowError names the field that could not be packed.
type OverflowError struct {
	Field string
	Value int64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s=%d: %v", e.Field, e.Value, ErrEncodingOverflow)
}

func (e *OverflowError) Unwrap() error {
	return ErrEncodingOverflow
}

// BurstStats summarizes one WriteBurst call.
type BurstStats struct {
	Records  int // records written to the sink
	Rejected int // records skipped because of overflow
	Bytes    int // total bytes written including the marker
}

// Encoder writes wire records and end-of-burst markers to a sink.
// It is not safe for concurrent use; one goroutine must own the sink for
// the duration of a burst.
type Encoder struct {
	w         io.Writer
	policy    OverflowPolicy
	recordGap time.Duration
	sleep     func(context.Context, time.Duration) error
	logger    *logrus.Logger
	buf       [WireRecordSize]byte
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithOverflowPolicy sets the int32 overflow policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(e *Encoder) { e.policy = p }
}

// WithRecordGap pauses after every record so the receiver can drain its FIFO.
func WithRecordGap(d time.Duration) Option {
	return func(e *Encoder) { e.recordGap = d }
}

// WithLogger attaches a logger for per-record debug output.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Encoder) { e.logger = logger }
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	e := &Encoder{
		w:      w,
		policy: OverflowReject,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.New()
		e.logger.SetOutput(io.Discard)
	}
	return e
}

// MarshalRecord packs a normalized record into its 28-byte wire form.
func MarshalRecord(n NormalizedRecord, policy OverflowPolicy) ([WireRecordSize]byte, error) {
	var buf [WireRecordSize]byte
	if err := marshalInto(buf[:], n, policy); err != nil {
		return buf, err
	}
	return buf, nil
}

func marshalInto(buf []byte, n NormalizedRecord, policy OverflowPolicy) error {
	fields := [...]struct {
		name  string
		value int64
	}{
		{"longitude", n.Longitude},
		{"latitude", n.Latitude},
		{"geo_altitude", n.GeoAltitude},
		{"velocity", n.Velocity},
		{"true_track", n.TrueTrack},
	}

	// Check every field before touching buf.
	var packed [len(fields)]int32
	for i, f := range fields {
		v, err := fitInt32(f.name, f.value, policy)
		if err != nil {
			return err
		}
		packed[i] = v
	}

	binary.LittleEndian.PutUint32(buf[0:4], packCallsignWord(n.Callsign[0:4]))
	binary.LittleEndian.PutUint32(buf[4:8], packCallsignWord(n.Callsign[4:8]))
	for i, v := range packed {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
	}
	return nil
}

func fitInt32(name string, v int64, policy OverflowPolicy) (int32, error) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return int32(v), nil
	}
	if policy == OverflowSaturate {
		if v > 0 {
			return math.MaxInt32, nil
		}
		return math.MinInt32, nil
	}
	return 0, &OverflowError{Field: name, Value: v}
}

// Encode writes one record. On overflow nothing is written.
func (e *Encoder) Encode(n NormalizedRecord) error {
	if err := marshalInto(e.buf[:], n, e.policy); err != nil {
		return err
	}
	if err := e.write(e.buf[:]); err != nil {
		return err
	}

	if e.logger.IsLevelEnabled(logrus.DebugLevel) {
		e.logger.WithFields(logrus.Fields{
			"callsign": n.CallsignString(),
			"raw":      fmt.Sprintf("%x", e.buf[:]),
		}).Debug("Sent record")
	}

	return nil
}

// EndBurst writes the end-of-burst marker.
func (e *Encoder) EndBurst() error {
	var marker [MarkerSize]byte
	binary.LittleEndian.PutUint32(marker[:], EndOfBurstMarker)
	return e.write(marker[:])
}

// WriteBurst normalizes and writes every record in order, then the marker.
// A transport failure aborts the burst; records rejected for overflow are
// skipped and counted. Canceling ctx stops the burst before the next record
// or during a record gap, leaving it without a marker.
func (e *Encoder) WriteBurst(ctx context.Context, records []RawAircraftRecord) (BurstStats, error) {
	var stats BurstStats

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("burst interrupted before record %d of %d: %w", i+1, len(records), err)
		}

		n := Normalize(raw)
		err := e.Encode(n)
		switch {
		case err == nil:
			stats.Records++
			stats.Bytes += WireRecordSize
		case errors.Is(err, ErrEncodingOverflow):
			stats.Rejected++
			e.logger.WithError(err).WithFields(logrus.Fields{
				"index":    i,
				"icao24":   raw.ICAO24,
				"callsign": n.CallsignString(),
			}).Warn("Skipping record that does not fit the wire format")
			continue
		default:
			return stats, fmt.Errorf("record %d of %d: %w", i+1, len(records), err)
		}

		if e.recordGap > 0 {
			if err := e.sleep(ctx, e.recordGap); err != nil {
				return stats, fmt.Errorf("burst interrupted after record %d of %d: %w", i+1, len(records), err)
			}
		}
	}

	if err := e.EndBurst(); err != nil {
		return stats, fmt.Errorf("end of burst: %w", err)
	}
	stats.Bytes += MarkerSize

	return stats, nil
}

func (e *Encoder) write(p []byte) error {
	n, err := e.w.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: %w (%d of %d bytes)", ErrTransportWrite, io.ErrShortWrite, n, len(p))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
