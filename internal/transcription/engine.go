package transcription

import (
	"context"
	"fmt"
	"time"
)

// EngineResult is the raw output of one inference call.
type EngineResult struct {
	Text       string
	Confidence float32
}

// Engine is a speech-to-text backend. Transcribe blocks until the engine
// answers, the context expires, or the call fails. Implementations must be
// safe for concurrent use up to the scheduler's worker count.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (EngineResult, error)
}

// EngineError wraps a failed inference call with enough context to log it
// against the chunk that triggered it.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Result is the pipeline's per-chunk outcome, published in submission
// order. A Failed result marks a chunk whose inference could not complete;
// LowConfidence flags text under the configured confidence floor without
// suppressing it.
type Result struct {
	Sequence       uint64        `json:"sequence"`
	Text           string        `json:"text"`
	Confidence     float32       `json:"confidence"`
	LowConfidence  bool          `json:"low_confidence,omitempty"`
	Failed         bool          `json:"failed,omitempty"`
	ProcessingTime time.Duration `json:"-"`
	ProducedAt     time.Time     `json:"-"`
}
