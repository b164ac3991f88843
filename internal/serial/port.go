// Package serial opens a raw tty for the telemetry link.
package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Defaults for the UART link to the display board
const (
	DefaultDevice = "/dev/ttyO4"
	DefaultBaud   = 115200
)

// ErrClosed is returned when writing to a closed port.
var ErrClosed = errors.New("serial port closed")

// Config describes the serial device
type Config struct {
	Device string
	Baud   int
}

// Port is an open serial device configured raw 8N1.
type Port struct {
	device string
	baud   int

	mu   sync.Mutex
	file *os.File
}

// Open opens and configures the device.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial device is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}

	f, err := openRaw(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %d baud: %w", cfg.Device, cfg.Baud, err)
	}

	return &Port{device: cfg.Device, baud: cfg.Baud, file: f}, nil
}

// Write blocks until p is written or the device fails.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, ErrClosed
	}
	return p.file.Write(b)
}

// Close releases the device. Closing twice is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Device returns the device path
func (p *Port) Device() string { return p.device }

// Baud returns the configured line speed
func (p *Port) Baud() int { return p.baud }
