package vad

import (
	"math"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
)

// Verdict is the gate's decision for one chunk, with the measured energy
// values for logging and metrics.
type Verdict struct {
	Sequence uint64
	IsSpeech bool
	RMS      float64
	Peak     float64
}

// Gate is a stateless energy-based activity detector. A chunk counts as
// speech only when both its RMS energy and its peak amplitude clear their
// thresholds; either alone is treated as noise.
type Gate struct {
	rmsThreshold  float64
	peakThreshold float64
}

// NewGate creates a gate with the given RMS and peak amplitude thresholds.
func NewGate(rmsThreshold, peakThreshold float64) *Gate {
	return &Gate{
		rmsThreshold:  rmsThreshold,
		peakThreshold: peakThreshold,
	}
}

// Classify measures a chunk and decides whether it contains speech. Pure
// function of the chunk contents; safe for concurrent use.
func (g *Gate) Classify(chunk *audio.Chunk) Verdict {
	rms, peak := measure(chunk.Samples)
	return Verdict{
		Sequence: chunk.Sequence,
		IsSpeech: rms > g.rmsThreshold && peak > g.peakThreshold,
		RMS:      rms,
		Peak:     peak,
	}
}

func measure(samples []float32) (rms, peak float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sum / float64(len(samples))), peak
}
