package transcription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/metrics"
)

// SchedulerConfig sizes the inference worker pool.
type SchedulerConfig struct {
	Workers         int
	QueueSize       int
	CallTimeout     time.Duration
	ConfidenceFloor float32
}

// Scheduler dispatches speech chunks to the engine from a bounded queue and
// publishes results strictly in submission order. With multiple workers,
// calls overlap but a slow chunk holds back faster successors until it
// completes. When the queue is full, Submit drops the chunk rather than
// stalling the capture loop.
type Scheduler struct {
	cfg     SchedulerConfig
	engine  Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  []uint64          // submission FIFO, release order
	done     map[uint64]Result // completed ahead of the FIFO head
	draining bool

	queue       chan *audio.Chunk
	completions chan Result
	results     chan Result

	workerWg  sync.WaitGroup
	reorderWg sync.WaitGroup
}

// NewScheduler creates a scheduler in front of the given engine. Call Start
// before submitting.
func NewScheduler(cfg SchedulerConfig, engine Engine, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	return &Scheduler{
		cfg:         cfg,
		engine:      engine,
		logger:      logger,
		metrics:     m,
		done:        make(map[uint64]Result),
		queue:       make(chan *audio.Chunk, cfg.QueueSize),
		completions: make(chan Result, cfg.Workers),
		results:     make(chan Result, cfg.QueueSize),
	}
}

// Start launches the worker pool and the ordering goroutine.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}
	s.reorderWg.Add(1)
	go s.reorder()
}

// Submit enqueues a speech chunk for inference. Returns false when the
// queue is full or the scheduler is draining; the chunk is dropped and the
// ordering FIFO is untouched, so later results are not held up by it.
func (s *Scheduler) Submit(chunk *audio.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	select {
	case s.queue <- chunk:
		s.pending = append(s.pending, chunk.Sequence)
		return true
	default:
		s.metrics.RecordSubmissionDropped()
		s.logger.Warn("Inference queue full, dropping chunk",
			"sequence", chunk.Sequence,
			"queue_size", s.cfg.QueueSize)
		return false
	}
}

// Results returns the ordered result stream. The channel is closed by Drain
// once every accepted chunk has produced a result.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Drain stops accepting submissions, waits for every in-flight and queued
// chunk to complete, then closes the results channel. Blocks until done.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.reorderWg.Wait()
		return
	}
	s.draining = true
	s.mu.Unlock()

	close(s.queue)
	s.workerWg.Wait()
	close(s.completions)
	s.reorderWg.Wait()
}

func (s *Scheduler) worker() {
	defer s.workerWg.Done()
	for chunk := range s.queue {
		s.completions <- s.process(chunk)
	}
}

// process runs one inference call with a single retry. A second failure
// yields a failure-marker result so the ordered stream never has a hole.
func (s *Scheduler) process(chunk *audio.Chunk) Result {
	start := time.Now()
	s.metrics.RecordInferenceRequest()
	s.metrics.InferenceInFlightInc()
	defer s.metrics.InferenceInFlightDec()

	res, err := s.transcribeOnce(chunk)
	if err != nil {
		s.metrics.RecordInferenceRetry()
		s.logger.Warn("Inference call failed, retrying",
			"sequence", chunk.Sequence,
			"error", err)
		res, err = s.transcribeOnce(chunk)
	}

	elapsed := time.Since(start)
	if err != nil {
		s.metrics.RecordInferenceFailure()
		s.logger.Error("Inference failed after retry",
			"sequence", chunk.Sequence,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return Result{
			Sequence:       chunk.Sequence,
			Failed:         true,
			ProcessingTime: elapsed,
			ProducedAt:     time.Now(),
		}
	}

	s.metrics.RecordInferenceSuccess(elapsed)
	low := s.cfg.ConfidenceFloor > 0 && res.Confidence < s.cfg.ConfidenceFloor
	if low {
		s.metrics.RecordLowConfidence()
		s.logger.Debug("Low confidence transcription",
			"sequence", chunk.Sequence,
			"confidence", res.Confidence)
	}
	return Result{
		Sequence:       chunk.Sequence,
		Text:           res.Text,
		Confidence:     res.Confidence,
		LowConfidence:  low,
		ProcessingTime: elapsed,
		ProducedAt:     time.Now(),
	}
}

func (s *Scheduler) transcribeOnce(chunk *audio.Chunk) (EngineResult, error) {
	ctx := context.Background()
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}
	return s.engine.Transcribe(ctx, chunk.Samples, chunk.SampleRate)
}

// reorder is the single goroutine that restores submission order: it parks
// completions until the FIFO head is done, then releases a maximal prefix.
func (s *Scheduler) reorder() {
	defer s.reorderWg.Done()
	defer close(s.results)

	for res := range s.completions {
		s.mu.Lock()
		s.done[res.Sequence] = res
		var release []Result
		for len(s.pending) > 0 {
			head := s.pending[0]
			r, ok := s.done[head]
			if !ok {
				break
			}
			delete(s.done, head)
			s.pending = s.pending[1:]
			release = append(release, r)
		}
		s.mu.Unlock()

		for _, r := range release {
			s.results <- r
		}
	}
}
