package audio

import (
	"math"
	"sync"
	"time"
)

func init() {
	RegisterDriver("synthetic", func(cfg SourceConfig) (Source, error) {
		return NewSyntheticSource(cfg, true), nil
	})
}

// SyntheticSource generates frames without touching any hardware. It
// alternates between a sine tone and silence so the activity gate sees both
// speech-like and silent chunks. Used by tests and by deployments that have
// no capture device.
type SyntheticSource struct {
	cfg      SourceConfig
	realtime bool

	mu     sync.Mutex
	closed bool
	pos    uint64
}

// NewSyntheticSource creates a synthetic capture source. When realtime is
// set, Read paces itself to the frame duration; otherwise frames are
// produced as fast as the caller reads them.
func NewSyntheticSource(cfg SourceConfig, realtime bool) *SyntheticSource {
	return &SyntheticSource{cfg: cfg, realtime: realtime}
}

// Read returns the next frame. Tone and silence alternate in one second
// stretches.
func (s *SyntheticSource) Read() (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrStreamClosed
	}
	start := s.pos
	s.pos += uint64(s.cfg.FrameSize)
	s.mu.Unlock()

	if s.realtime {
		frameDur := time.Duration(s.cfg.FrameSize) * time.Second / time.Duration(s.cfg.SampleRate)
		time.Sleep(frameDur)
	}

	samples := make([]float32, s.cfg.FrameSize)
	rate := uint64(s.cfg.SampleRate)
	for i := range samples {
		n := start + uint64(i)
		// One second of 440 Hz tone, one second of silence, repeating.
		if (n/rate)%2 == 0 {
			t := float64(n) / float64(rate)
			samples[i] = float32(0.25 * math.Sin(2*math.Pi*440*t))
		}
	}
	return Frame{Samples: samples, Captured: time.Now()}, nil
}

// Close stops the stream. Subsequent reads return ErrStreamClosed.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SyntheticSource) Device() DeviceInfo {
	return DeviceInfo{Name: "synthetic", Loopback: false}
}
