package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/broadcast"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/store"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/transcription"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/vad"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedSource serves a fixed set of frames, then blocks until closed, or
// fails when failAfter is set.
type scriptedSource struct {
	frames    [][]float32
	failAfter bool

	mu     sync.Mutex
	pos    int
	closed chan struct{}
}

func newScriptedSource(frames [][]float32, failAfter bool) *scriptedSource {
	return &scriptedSource{frames: frames, failAfter: failAfter, closed: make(chan struct{})}
}

func (s *scriptedSource) Read() (audio.Frame, error) {
	select {
	case <-s.closed:
		return audio.Frame{}, audio.ErrStreamClosed
	default:
	}
	s.mu.Lock()
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return audio.Frame{Samples: f, Captured: time.Now()}, nil
	}
	s.mu.Unlock()
	if s.failAfter {
		return audio.Frame{}, fmt.Errorf("device disappeared")
	}
	<-s.closed
	return audio.Frame{}, audio.ErrStreamClosed
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (s *scriptedSource) Device() audio.DeviceInfo {
	return audio.DeviceInfo{Name: "scripted"}
}

type countingEngine struct {
	calls atomic.Uint64
}

func (e *countingEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcription.EngineResult, error) {
	n := e.calls.Add(1)
	return transcription.EngineResult{Text: fmt.Sprintf("call-%d", n), Confidence: 0.9}, nil
}

func loudFrames(n, samplesPer int) [][]float32 {
	frames := make([][]float32, n)
	for i := range frames {
		f := make([]float32, samplesPer)
		for j := range f {
			f[j] = 0.5
		}
		frames[i] = f
	}
	return frames
}

func silentFrames(n, samplesPer int) [][]float32 {
	frames := make([][]float32, n)
	for i := range frames {
		frames[i] = make([]float32, samplesPer)
	}
	return frames
}

type testRig struct {
	controller  *Controller
	engine      *countingEngine
	broadcaster *broadcast.Broadcaster
	store       *store.Store
}

func newTestRig(t *testing.T, src audio.Source) *testRig {
	t.Helper()
	logger := quietLogger()
	b := broadcast.New(broadcast.Config{BufferSize: 64, SendTimeout: 100 * time.Millisecond}, logger, nil)
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	engine := &countingEngine{}

	cfg := Config{
		Source:          audio.SourceConfig{SampleRate: 100, FrameSize: 10},
		ChunkDuration:   100 * time.Millisecond, // 10 samples per chunk
		OverlapDuration: 0,
		Scheduler:       transcription.SchedulerConfig{Workers: 2, QueueSize: 16},
	}
	c := NewController(cfg, engine, vad.NewGate(0.01, 0.02), b, st, logger, nil)
	c.openSource = func(audio.SourceConfig) (audio.Source, error) { return src, nil }
	t.Cleanup(b.Close)
	return &testRig{controller: c, engine: engine, broadcaster: b, store: st}
}

func TestControllerLifecycle(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(loudFrames(5, 10), false))
	c := rig.controller

	if c.Status().State != StateIdle {
		t.Fatalf("expected idle before start, got %s", c.Status().State)
	}

	info, err := c.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if info.ID == "" {
		t.Error("expected a session id")
	}
	if c.Status().State != StateCapturing {
		t.Errorf("expected capturing, got %s", c.Status().State)
	}

	if _, err := c.Start(); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Errorf("expected ErrSessionAlreadyActive, got %v", err)
	}

	waitFor(t, func() bool { return c.Status().Stats.Chunks >= 5 })
	status, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if status.State != StateIdle {
		t.Errorf("expected idle after stop, got %s", status.State)
	}
	if status.Stats.Chunks == 0 {
		t.Error("expected chunks to have been assembled")
	}
	if got := rig.engine.calls.Load(); got == 0 {
		t.Error("expected inference calls for loud audio")
	}

	if _, err := c.Stop(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestControllerGatesSilence(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(silentFrames(5, 10), false))
	c := rig.controller

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Give the capture loop time to consume all frames.
	waitFor(t, func() bool { return c.Status().Stats.Chunks >= 5 })

	status, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rig.engine.calls.Load() != 0 {
		t.Errorf("silent audio reached the engine %d times", rig.engine.calls.Load())
	}
	if status.Stats.SilenceChunks == 0 {
		t.Error("expected silence chunks to be counted")
	}
}

func TestControllerPublishesOrderedTranscriptions(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(loudFrames(6, 10), false))
	c := rig.controller

	sub := rig.broadcaster.Subscribe()
	defer rig.broadcaster.Unsubscribe(sub)

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, func() bool { return c.Status().Stats.Chunks >= 6 })
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var lastSeq int64 = -1
	var transcriptions int
	deadline := time.After(2 * time.Second)
	for transcriptions < 6 {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed after %d transcriptions", transcriptions)
			}
			if ev.Type != broadcast.EventTranscription {
				continue
			}
			data := ev.Data.(broadcast.TranscriptionData)
			if int64(data.Sequence) <= lastSeq {
				t.Fatalf("out of order: sequence %d after %d", data.Sequence, lastSeq)
			}
			lastSeq = int64(data.Sequence)
			transcriptions++
		case <-deadline:
			t.Fatalf("expected 6 transcriptions, got %d", transcriptions)
		}
	}
}

func TestControllerEndsSessionOnSourceFailure(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(loudFrames(3, 10), true))
	c := rig.controller

	sub := rig.broadcaster.Subscribe()
	defer rig.broadcaster.Unsubscribe(sub)

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The source fails after its frames; the controller must drain and
	// return to idle on its own.
	waitFor(t, func() bool { return c.Status().State == StateIdle })

	if _, err := c.Stop(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession after self-drain, got %v", err)
	}
	if rig.engine.calls.Load() == 0 {
		t.Error("accepted chunks should still have been transcribed")
	}

	// The failure must be visible to pollers and subscribers, not just the
	// log: Status carries the error until the next session starts, and the
	// closing status event names it.
	if got := c.Status().LastError; got == "" {
		t.Error("Status.LastError empty after source failure")
	}
	final := lastStatusEvent(t, sub, StateIdle)
	if final["error"] == nil || final["error"] == "" {
		t.Errorf("closing status event missing error, got %v", final)
	}
}

func TestControllerClearsLastErrorOnRestart(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(loudFrames(2, 10), true))
	c := rig.controller

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, func() bool { return c.Status().State == StateIdle })
	if c.Status().LastError == "" {
		t.Fatal("expected LastError after source failure")
	}

	c.openSource = func(audio.SourceConfig) (audio.Source, error) {
		return newScriptedSource(loudFrames(1, 10), false), nil
	}
	if _, err := c.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if c.Status().LastError != "" {
		t.Error("LastError not cleared by a new session")
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestControllerPublishesLifecycleStatusEvents(t *testing.T) {
	rig := newTestRig(t, newScriptedSource(loudFrames(2, 10), false))
	c := rig.controller

	sub := rig.broadcaster.Subscribe()
	defer rig.broadcaster.Unsubscribe(sub)

	if _, err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, func() bool { return c.Status().Stats.Chunks >= 2 })
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var states []State
	deadline := time.After(2 * time.Second)
	for len(states) < 3 {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed with states %v", states)
			}
			if ev.Type != broadcast.EventStatus {
				continue
			}
			data := ev.Data.(map[string]any)
			states = append(states, data["state"].(State))
			// A clean stop carries no error field on any transition.
			if _, hasErr := data["error"]; hasErr {
				t.Errorf("clean stop reported an error: %v", data)
			}
		case <-deadline:
			t.Fatalf("expected 3 status events, got %v", states)
		}
	}

	want := []State{StateCapturing, StateDraining, StateIdle}
	for i, st := range want {
		if states[i] != st {
			t.Fatalf("status events = %v, want %v", states, want)
		}
	}
}

// lastStatusEvent drains the subscriber until it sees a status event with
// the wanted state, returning its payload.
func lastStatusEvent(t *testing.T, sub *broadcast.Subscriber, want State) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed before %s status event", want)
			}
			if ev.Type != broadcast.EventStatus {
				continue
			}
			data := ev.Data.(map[string]any)
			if data["state"] == want {
				return data
			}
		case <-deadline:
			t.Fatalf("no %s status event seen", want)
		}
	}
}

func TestControllerRestartAfterStop(t *testing.T) {
	src1 := newScriptedSource(loudFrames(2, 10), false)
	rig := newTestRig(t, src1)
	c := rig.controller

	info1, err := c.Start()
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}

	c.openSource = func(audio.SourceConfig) (audio.Source, error) {
		return newScriptedSource(loudFrames(2, 10), false), nil
	}
	info2, err := c.Start()
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if info1.ID == info2.ID {
		t.Error("expected a fresh session id per session")
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
