package vad

import (
	"math"
	"testing"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
)

func chunkOf(samples []float32) *audio.Chunk {
	return &audio.Chunk{
		Sequence:   7,
		Samples:    samples,
		SampleRate: 16000,
		Start:      time.Now(),
	}
}

func sine(n int, amplitude float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return s
}

func TestGatePassesLoudAudio(t *testing.T) {
	g := NewGate(0.01, 0.02)
	v := g.Classify(chunkOf(sine(1600, 0.25)))
	if !v.IsSpeech {
		t.Errorf("expected speech verdict, got rms=%.4f peak=%.4f", v.RMS, v.Peak)
	}
	if v.Sequence != 7 {
		t.Errorf("verdict lost sequence: got %d", v.Sequence)
	}
}

func TestGateBlocksSilence(t *testing.T) {
	g := NewGate(0.01, 0.02)
	v := g.Classify(chunkOf(make([]float32, 1600)))
	if v.IsSpeech {
		t.Error("expected silence verdict for zero samples")
	}
	if v.RMS != 0 || v.Peak != 0 {
		t.Errorf("expected zero measurements, got rms=%v peak=%v", v.RMS, v.Peak)
	}
}

func TestGateRequiresBothThresholds(t *testing.T) {
	g := NewGate(0.01, 0.02)

	// Single spike: peak clears but RMS over the chunk stays low.
	spike := make([]float32, 16000)
	spike[0] = 0.9
	if v := g.Classify(chunkOf(spike)); v.IsSpeech {
		t.Errorf("expected noise verdict for lone spike, rms=%.5f peak=%.2f", v.RMS, v.Peak)
	}

	// Low hum: RMS clears but peak stays under its threshold.
	hum := NewGate(0.005, 0.02)
	if v := hum.Classify(chunkOf(sine(16000, 0.015))); v.IsSpeech {
		t.Errorf("expected noise verdict for low hum, rms=%.4f peak=%.4f", v.RMS, v.Peak)
	}
}

func TestGateEmptyChunk(t *testing.T) {
	g := NewGate(0.01, 0.02)
	if v := g.Classify(chunkOf(nil)); v.IsSpeech {
		t.Error("expected silence verdict for empty chunk")
	}
}
