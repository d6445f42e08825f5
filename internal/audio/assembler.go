package audio

import (
	"fmt"
	"time"
)

// Chunk is a fixed-duration slice of the capture stream handed to the gate
// and the inference pipeline. Sequence numbers are gap-free in assembly
// order; consecutive chunks share an overlap region so words spanning a
// chunk boundary appear in both.
type Chunk struct {
	Sequence   uint64
	Samples    []float32
	SampleRate int
	Start      time.Time
	Duration   time.Duration
}

// Assembler accumulates capture frames into overlapping fixed-duration
// chunks. Not safe for concurrent use; the capture loop is its only caller.
type Assembler struct {
	sampleRate     int
	chunkSamples   int
	overlapSamples int

	buf     []float32
	nextSeq uint64
	start   time.Time
}

// NewAssembler creates an assembler producing chunks of chunkDur with
// overlapDur of trailing audio repeated at the head of the next chunk.
func NewAssembler(sampleRate int, chunkDur, overlapDur time.Duration) (*Assembler, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	chunkSamples := int(chunkDur.Seconds() * float64(sampleRate))
	overlapSamples := int(overlapDur.Seconds() * float64(sampleRate))
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("chunk duration %v too short for %d Hz", chunkDur, sampleRate)
	}
	if overlapSamples >= chunkSamples {
		return nil, fmt.Errorf("overlap %v must be shorter than chunk %v", overlapDur, chunkDur)
	}
	return &Assembler{
		sampleRate:     sampleRate,
		chunkSamples:   chunkSamples,
		overlapSamples: overlapSamples,
		buf:            make([]float32, 0, chunkSamples*2),
	}, nil
}

// Push appends a frame and returns a completed chunk when enough samples
// have accumulated, nil otherwise. The returned chunk owns its samples; the
// overlap region is retained for the next chunk.
func (a *Assembler) Push(f Frame) *Chunk {
	if len(a.buf) == 0 {
		a.start = f.Captured
	}
	a.buf = append(a.buf, f.Samples...)
	if len(a.buf) < a.chunkSamples {
		return nil
	}

	chunk := a.emit(a.buf[:a.chunkSamples])

	// Retain the overlap so the next chunk begins with the tail of this one.
	retainFrom := a.chunkSamples - a.overlapSamples
	remaining := len(a.buf) - retainFrom
	copy(a.buf, a.buf[retainFrom:])
	a.buf = a.buf[:remaining]
	a.start = chunk.Start.Add(time.Duration(retainFrom) * time.Second / time.Duration(a.sampleRate))
	return chunk
}

// Flush emits whatever is buffered as a final short chunk, or returns nil
// when only overlap carryover (or nothing) remains. Called once at session
// stop so trailing audio is not lost.
func (a *Assembler) Flush() *Chunk {
	if len(a.buf) == 0 || (a.nextSeq > 0 && len(a.buf) <= a.overlapSamples) {
		a.buf = a.buf[:0]
		return nil
	}
	chunk := a.emit(a.buf)
	a.buf = a.buf[:0]
	return chunk
}

func (a *Assembler) emit(samples []float32) *Chunk {
	out := make([]float32, len(samples))
	copy(out, samples)
	chunk := &Chunk{
		Sequence:   a.nextSeq,
		Samples:    out,
		SampleRate: a.sampleRate,
		Start:      a.start,
		Duration:   time.Duration(len(out)) * time.Second / time.Duration(a.sampleRate),
	}
	a.nextSeq++
	return chunk
}

// Buffered reports how many samples are waiting for the next chunk.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}
