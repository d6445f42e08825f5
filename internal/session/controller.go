package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/broadcast"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/metrics"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/store"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/transcription"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/vad"
)

var (
	// ErrSessionAlreadyActive is returned by Start while a session is
	// capturing or draining.
	ErrSessionAlreadyActive = errors.New("capture session already active")

	// ErrNoActiveSession is returned by Stop when nothing is capturing.
	ErrNoActiveSession = errors.New("no active capture session")
)

// State of the capture lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateDraining  State = "draining"
)

// Config parameterizes a capture session.
type Config struct {
	Source          audio.SourceConfig
	ChunkDuration   time.Duration
	OverlapDuration time.Duration
	Scheduler       transcription.SchedulerConfig
}

// PipelineStats are cumulative counters for the current or most recent
// session.
type PipelineStats struct {
	Frames        uint64 `json:"frames"`
	Chunks        uint64 `json:"chunks"`
	SpeechChunks  uint64 `json:"speech_chunks"`
	SilenceChunks uint64 `json:"silence_chunks"`
	DroppedChunks uint64 `json:"dropped_chunks"`
	Results       uint64 `json:"results"`
}

// Status is a point-in-time snapshot of the controller. LastError carries
// the fatal source error that ended the current or most recent session, and
// is cleared when a new session starts.
type Status struct {
	State     State            `json:"state"`
	SessionID string           `json:"session_id,omitempty"`
	StartedAt time.Time        `json:"started_at,omitzero"`
	Device    audio.DeviceInfo `json:"device,omitzero"`
	Stats     PipelineStats    `json:"stats"`
	LastError string           `json:"last_error,omitempty"`
}

// SessionInfo describes a freshly started session.
type SessionInfo struct {
	ID        string           `json:"session_id"`
	StartedAt time.Time        `json:"started_at"`
	Device    audio.DeviceInfo `json:"device"`
}

type activeSession struct {
	id        string
	startedAt time.Time
	source    audio.Source
	assembler *audio.Assembler
	scheduler *transcription.Scheduler
	done      chan struct{}
}

// Controller runs at most one capture session. Safe for concurrent use by
// HTTP and WebSocket handlers.
type Controller struct {
	cfg         Config
	engine      transcription.Engine
	gate        *vad.Gate
	broadcaster *broadcast.Broadcaster
	store       *store.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// openSource is audio.Open unless a test injects its own.
	openSource func(audio.SourceConfig) (audio.Source, error)

	mu      sync.Mutex
	state   State
	current *activeSession
	stats   PipelineStats
	lastErr string
}

// NewController wires the pipeline components together. The broadcaster and
// store are shared with the HTTP layer; the engine is shared across
// sessions.
func NewController(cfg Config, engine transcription.Engine, gate *vad.Gate, b *broadcast.Broadcaster, st *store.Store, logger *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:         cfg,
		engine:      engine,
		gate:        gate,
		broadcaster: b,
		store:       st,
		logger:      logger,
		metrics:     m,
		openSource:  audio.Open,
		state:       StateIdle,
	}
}

// Start opens the audio source and begins capturing. Returns
// ErrSessionAlreadyActive while a session is capturing or draining, and a
// wrapped audio.ErrDeviceUnavailable when no input device can be opened.
func (c *Controller) Start() (*SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, ErrSessionAlreadyActive
	}

	source, err := c.openSource(c.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}

	assembler, err := audio.NewAssembler(c.cfg.Source.SampleRate, c.cfg.ChunkDuration, c.cfg.OverlapDuration)
	if err != nil {
		source.Close()
		return nil, err
	}

	scheduler := transcription.NewScheduler(c.cfg.Scheduler, c.engine, c.logger, c.metrics)
	scheduler.Start()

	sess := &activeSession{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		source:    source,
		assembler: assembler,
		scheduler: scheduler,
		done:      make(chan struct{}),
	}
	c.current = sess
	c.state = StateCapturing
	c.stats = PipelineStats{}
	c.lastErr = ""
	c.metrics.RecordSessionStart()

	c.logger.Info("Capture session started",
		"session_id", sess.id,
		"device", source.Device().Name,
		"loopback", source.Device().Loopback,
		"sample_rate", c.cfg.Source.SampleRate)

	go c.captureLoop(sess)
	go c.resultPump(sess)

	c.broadcaster.Publish(statusEvent(StateCapturing, sess.id, ""))

	return &SessionInfo{ID: sess.id, StartedAt: sess.startedAt, Device: source.Device()}, nil
}

// statusEvent builds the wire payload for a lifecycle transition. The error
// field is present only when a fatal source error ended the session.
func statusEvent(state State, sessionID, errMsg string) broadcast.Event {
	data := map[string]any{
		"state":      state,
		"session_id": sessionID,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return broadcast.Event{Type: broadcast.EventStatus, Data: data}
}

// Stop ends the current session and blocks until every in-flight chunk has
// produced a result. Returns the final status, with ErrNoActiveSession when
// nothing was capturing.
func (c *Controller) Stop() (Status, error) {
	c.mu.Lock()
	sess := c.current
	switch c.state {
	case StateIdle:
		status := c.statusLocked()
		c.mu.Unlock()
		return status, ErrNoActiveSession
	case StateCapturing:
		c.state = StateDraining
		c.mu.Unlock()
		c.broadcaster.Publish(statusEvent(StateDraining, sess.id, ""))
		// Closing the source halts the capture loop within one frame; the
		// loop then flushes and drains the scheduler.
		sess.source.Close()
	case StateDraining:
		c.mu.Unlock()
	}

	<-sess.done
	return c.Status(), nil
}

// Status returns a snapshot of the controller state and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{State: c.state, Stats: c.stats, LastError: c.lastErr}
	if c.current != nil {
		st.SessionID = c.current.id
		st.StartedAt = c.current.startedAt
		st.Device = c.current.source.Device()
	}
	return st
}

// Close stops any active session. Called on process shutdown.
func (c *Controller) Close() {
	if _, err := c.Stop(); err != nil && !errors.Is(err, ErrNoActiveSession) {
		c.logger.Error("Failed to stop session on shutdown", "error", err)
	}
}

// captureLoop reads frames until the source closes or fails, then flushes
// the assembler and drains the scheduler so no accepted chunk is lost.
func (c *Controller) captureLoop(sess *activeSession) {
	for {
		frame, err := sess.source.Read()
		if err != nil {
			if !errors.Is(err, audio.ErrStreamClosed) {
				c.logger.Error("Audio source failed, ending session",
					"session_id", sess.id,
					"error", err)
				sess.source.Close()
				c.mu.Lock()
				c.lastErr = err.Error()
				if c.state == StateCapturing {
					c.state = StateDraining
				}
				c.mu.Unlock()
				c.broadcaster.Publish(statusEvent(StateDraining, sess.id, err.Error()))
			}
			break
		}
		c.metrics.RecordFrame()
		c.mu.Lock()
		c.stats.Frames++
		c.mu.Unlock()

		if chunk := sess.assembler.Push(frame); chunk != nil {
			c.dispatch(sess, chunk)
		}
	}

	if chunk := sess.assembler.Flush(); chunk != nil {
		c.dispatch(sess, chunk)
	}
	sess.scheduler.Drain()
}

// dispatch runs one chunk through the gate and, for speech, the scheduler.
func (c *Controller) dispatch(sess *activeSession, chunk *audio.Chunk) {
	c.metrics.RecordChunk()
	verdict := c.gate.Classify(chunk)
	c.metrics.RecordGateVerdict(verdict.IsSpeech)

	c.mu.Lock()
	c.stats.Chunks++
	if verdict.IsSpeech {
		c.stats.SpeechChunks++
	} else {
		c.stats.SilenceChunks++
	}
	c.mu.Unlock()

	if !verdict.IsSpeech {
		c.logger.Debug("Skipping silent chunk",
			"sequence", chunk.Sequence,
			"rms", verdict.RMS,
			"peak", verdict.Peak)
		return
	}

	if !sess.scheduler.Submit(chunk) {
		c.mu.Lock()
		c.stats.DroppedChunks++
		c.mu.Unlock()
	}
}

// resultPump publishes ordered results and persists them. It owns the
// transition back to idle: the scheduler closes its results channel only
// after the drain completes.
func (c *Controller) resultPump(sess *activeSession) {
	for res := range sess.scheduler.Results() {
		c.metrics.RecordResultPublished()
		c.mu.Lock()
		c.stats.Results++
		c.mu.Unlock()

		c.broadcaster.Publish(broadcast.Event{
			Type: broadcast.EventTranscription,
			Data: broadcast.TranscriptionData{
				SessionID:      sess.id,
				Sequence:       res.Sequence,
				Text:           res.Text,
				Confidence:     res.Confidence,
				LowConfidence:  res.LowConfidence,
				Failed:         res.Failed,
				ProcessingTime: res.ProcessingTime.Seconds(),
				Timestamp:      res.ProducedAt,
			},
		})

		if err := c.store.Append(context.Background(), store.Record{
			SessionID:     sess.id,
			Sequence:      res.Sequence,
			Text:          res.Text,
			Confidence:    res.Confidence,
			LowConfidence: res.LowConfidence,
			Failed:        res.Failed,
			CreatedAt:     res.ProducedAt,
		}); err != nil {
			c.logger.Error("Failed to persist transcription",
				"session_id", sess.id,
				"sequence", res.Sequence,
				"error", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.current = nil
	stats := c.stats
	lastErr := c.lastErr
	c.mu.Unlock()

	c.logger.Info("Capture session ended",
		"session_id", sess.id,
		"frames", stats.Frames,
		"chunks", stats.Chunks,
		"speech_chunks", stats.SpeechChunks,
		"results", stats.Results)

	c.broadcaster.Publish(statusEvent(StateIdle, sess.id, lastErr))
	close(sess.done)
}
