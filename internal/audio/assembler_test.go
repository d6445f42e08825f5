package audio

import (
	"testing"
	"time"
)

func frameOf(samples []float32) Frame {
	return Frame{Samples: samples, Captured: time.Now()}
}

func constFrame(n int, v float32) Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return frameOf(s)
}

func TestAssemblerEmitsAtChunkBoundary(t *testing.T) {
	// 100 Hz, 1 s chunks, no overlap: 100 samples per chunk.
	a, err := NewAssembler(100, time.Second, 0)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	if got := a.Push(constFrame(60, 0.5)); got != nil {
		t.Fatalf("expected nil before boundary, got chunk seq %d", got.Sequence)
	}
	chunk := a.Push(constFrame(60, 0.5))
	if chunk == nil {
		t.Fatal("expected chunk at boundary")
	}
	if chunk.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", chunk.Sequence)
	}
	if len(chunk.Samples) != 100 {
		t.Errorf("expected 100 samples, got %d", len(chunk.Samples))
	}
	if a.Buffered() != 20 {
		t.Errorf("expected 20 buffered samples, got %d", a.Buffered())
	}
}

func TestAssemblerOverlapCarriesTail(t *testing.T) {
	// 100 Hz, 1 s chunks, 0.2 s overlap: 100-sample chunks, 20 retained.
	a, err := NewAssembler(100, time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	ramp := make([]float32, 100)
	for i := range ramp {
		ramp[i] = float32(i)
	}
	first := a.Push(frameOf(ramp))
	if first == nil {
		t.Fatal("expected first chunk")
	}

	second := a.Push(frameOf(ramp[:80]))
	if second == nil {
		t.Fatal("expected second chunk")
	}
	if second.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", second.Sequence)
	}
	// Head of the second chunk must equal the tail of the first.
	for i := 0; i < 20; i++ {
		if second.Samples[i] != first.Samples[80+i] {
			t.Fatalf("overlap mismatch at %d: %v != %v", i, second.Samples[i], first.Samples[80+i])
		}
	}
}

func TestAssemblerSequenceIsGapFree(t *testing.T) {
	a, err := NewAssembler(100, time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	var next uint64
	for i := 0; i < 10; i++ {
		if c := a.Push(constFrame(100, 0.1)); c != nil {
			if c.Sequence != next {
				t.Fatalf("expected sequence %d, got %d", next, c.Sequence)
			}
			next++
		}
	}
	if next == 0 {
		t.Fatal("no chunks produced")
	}
}

func TestAssemblerFlushEmitsRemainder(t *testing.T) {
	a, err := NewAssembler(100, time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	a.Push(constFrame(100, 0.3)) // emits chunk 0, retains 20 overlap samples
	a.Push(constFrame(30, 0.3))  // 50 buffered now

	final := a.Flush()
	if final == nil {
		t.Fatal("expected final chunk from flush")
	}
	if final.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", final.Sequence)
	}
	if len(final.Samples) != 50 {
		t.Errorf("expected 50 samples, got %d", len(final.Samples))
	}
	if a.Buffered() != 0 {
		t.Errorf("buffer not drained after flush: %d", a.Buffered())
	}
}

func TestAssemblerFlushSkipsOverlapOnlyRemainder(t *testing.T) {
	a, err := NewAssembler(100, time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	a.Push(constFrame(100, 0.3)) // retains exactly the 20 overlap samples
	if c := a.Flush(); c != nil {
		t.Fatalf("expected nil flush for overlap-only remainder, got %d samples", len(c.Samples))
	}
}

func TestAssemblerFlushEmptyBuffer(t *testing.T) {
	a, err := NewAssembler(100, time.Second, 0)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	if c := a.Flush(); c != nil {
		t.Fatal("expected nil flush on empty assembler")
	}
}

func TestNewAssemblerRejectsBadGeometry(t *testing.T) {
	if _, err := NewAssembler(100, time.Second, time.Second); err == nil {
		t.Error("expected error when overlap equals chunk duration")
	}
	if _, err := NewAssembler(0, time.Second, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewAssembler(100, 0, 0); err == nil {
		t.Error("expected error for zero chunk duration")
	}
}
