package telemetry

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"
)

// Burst is one polling cycle's worth of records, closed by a marker.
type Burst struct {
	Records []NormalizedRecord
}

// Decoder reassembles bursts from a byte stream such as a capture file or
// a loopback of the serial link. Partial records are kept until more data
// arrives.
type Decoder struct {
	logger  *logrus.Logger
	buffer  []byte
	pending []NormalizedRecord
	resyncs int
}

var markerBytes = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// NewDecoder creates a new stream decoder
func NewDecoder(logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Decoder{
		logger: logger,
		buffer: make([]byte, 0, 4096),
	}
}

// Feed appends data and returns every burst completed by it.
func (d *Decoder) Feed(data []byte) []Burst {
	d.buffer = append(d.buffer, data...)

	var bursts []Burst

	for {
		if len(d.buffer) < MarkerSize {
			break
		}

		if binary.LittleEndian.Uint32(d.buffer[:MarkerSize]) == EndOfBurstMarker {
			bursts = append(bursts, Burst{Records: d.pending})
			d.pending = nil
			d.buffer = d.buffer[MarkerSize:]
			continue
		}

		// A record always starts with an ASCII callsign byte.
		if d.buffer[0] >= 0x80 {
			d.resync()
			continue
		}

		if len(d.buffer) < WireRecordSize {
			break
		}

		rec, err := UnmarshalRecord(d.buffer[:WireRecordSize])
		if err != nil {
			d.logger.WithError(err).Debug("Failed to decode record")
			d.resync()
			continue
		}

		d.pending = append(d.pending, rec)
		d.buffer = d.buffer[WireRecordSize:]
	}

	// Compact so the backing array does not grow without bound
	if cap(d.buffer) > 4096 && len(d.buffer) < 1024 {
		d.buffer = append(make([]byte, 0, 4096), d.buffer...)
	}

	return bursts
}

// resync drops bytes up to the next marker.
func (d *Decoder) resync() {
	d.resyncs++

	idx := bytes.Index(d.buffer[1:], markerBytes)
	if idx == -1 {
		// Keep a possible partial marker at the tail
		keep := MarkerSize - 1
		if len(d.buffer) < keep {
			keep = len(d.buffer)
		}
		dropped := len(d.buffer) - keep
		d.buffer = d.buffer[dropped:]
		d.logger.WithField("dropped", dropped).Debug("Lost framing, waiting for marker")
	} else {
		d.logger.WithField("dropped", idx+1).Debug("Lost framing, skipped to marker")
		d.buffer = d.buffer[idx+1:]
	}

	// Records seen since the last marker can no longer be trusted
	d.pending = nil
}

// Pending reports records decoded since the last marker and the number of
// buffered bytes that do not yet form a record.
func (d *Decoder) Pending() (records int, partialBytes int) {
	return len(d.pending), len(d.buffer)
}

// Resyncs returns how many times framing was lost.
func (d *Decoder) Resyncs() int {
	return d.resyncs
}
