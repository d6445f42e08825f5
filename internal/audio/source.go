package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDeviceUnavailable indicates no matching input device exists or it
	// could not be opened. Fatal to the capture session.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrStreamClosed is returned by Read after the source has been closed.
	// Expected during a normal stop, not an error condition.
	ErrStreamClosed = errors.New("audio stream closed")
)

// Frame is a fixed-size block of samples handed from the capture device to
// the assembler. Ownership transfers to the caller of Read.
type Frame struct {
	Samples  []float32
	Captured time.Time
}

// DeviceInfo records which input device a source is reading from.
type DeviceInfo struct {
	Name     string `json:"name"`
	Loopback bool   `json:"loopback"`
}

// Source abstracts a platform audio input as a stream of frames.
// Read blocks until a frame is available or the stream is closed; after
// Close it returns ErrStreamClosed. Close is idempotent and releases the
// underlying device. Exactly one hardware stream is open per live Source.
type Source interface {
	Read() (Frame, error)
	Close() error
	Device() DeviceInfo
}

// SourceConfig selects and parameterizes an input device.
type SourceConfig struct {
	Device         string // driver name: "default", "loopback", "synthetic", ...
	PreferLoopback bool   // try the loopback driver before the default one
	SampleRate     int
	FrameSize      int
}

// Opener opens a capture stream for a driver.
type Opener func(cfg SourceConfig) (Source, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// RegisterDriver makes a capture driver available under the given name.
// Platform backends register themselves here; the "synthetic" driver is
// built in.
func RegisterDriver(name string, opener Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = opener
}

func lookupDriver(name string) (Opener, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	opener, ok := drivers[name]
	return opener, ok
}

// Open opens a capture source according to the selection policy: an explicit
// device name selects its driver directly; with PreferLoopback set, the
// "loopback" driver is tried first and the "default" driver is the fallback.
// The chosen device is recorded in the source's DeviceInfo.
func Open(cfg SourceConfig) (Source, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}

	if cfg.Device != "" && cfg.Device != "default" {
		opener, ok := lookupDriver(cfg.Device)
		if !ok {
			return nil, fmt.Errorf("no driver registered for device %q: %w", cfg.Device, ErrDeviceUnavailable)
		}
		return opener(cfg)
	}

	if cfg.PreferLoopback {
		if opener, ok := lookupDriver("loopback"); ok {
			src, err := opener(cfg)
			if err == nil {
				return src, nil
			}
			// Loopback unavailable, fall through to the default input.
		}
	}

	opener, ok := lookupDriver("default")
	if !ok {
		return nil, fmt.Errorf("no default input driver registered: %w", ErrDeviceUnavailable)
	}
	return opener(cfg)
}
