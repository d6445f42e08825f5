package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/metrics"
)

// Event types pushed to subscribers.
const (
	EventTranscription = "transcription"
	EventStatus        = "status"
)

// TranscriptionData is the payload of a transcription event.
// ProcessingTime is in seconds.
type TranscriptionData struct {
	SessionID      string    `json:"session_id"`
	Sequence       uint64    `json:"sequence"`
	Text           string    `json:"text"`
	Confidence     float32   `json:"confidence"`
	LowConfidence  bool      `json:"low_confidence,omitempty"`
	Failed         bool      `json:"failed,omitempty"`
	ProcessingTime float64   `json:"processing_time"`
	Timestamp      time.Time `json:"timestamp"`
}

// Event is one message on a subscriber's stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscriber receives events on a buffered channel. The channel is closed
// when the subscriber is removed or the broadcaster shuts down.
type Subscriber struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

// Events returns the subscriber's event stream.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// deliver attempts to hand the event to the subscriber, waiting at most
// timeout for buffer space. Returns false when the subscriber is stuck.
// Holds the subscriber lock for the duration so the channel cannot be
// closed mid-send.
func (s *Subscriber) deliver(ev Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.events <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Subscriber) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Config sizes subscriber buffers and bounds the delivery wait.
type Config struct {
	BufferSize  int
	SendTimeout time.Duration
}

// Broadcaster delivers each published event to every current subscriber.
// Delivery runs concurrently per subscriber, so a stuck one costs Publish
// at most SendTimeout total before it is dropped, and never delays the
// healthy ones.
type Broadcaster struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates a broadcaster with no subscribers.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	return &Broadcaster{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber. Returns nil after Close.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &Subscriber{events: make(chan Event, b.cfg.BufferSize)}
	b.subs[sub] = struct{}{}
	b.metrics.SubscriberConnected()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Broadcaster) removeLocked(sub *Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.closeEvents()
	b.metrics.SubscriberDisconnected()
}

// Publish delivers an event to all subscribers in parallel and returns once
// every delivery has completed or timed out. A subscriber whose buffer
// stays full past the send timeout is dropped.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			if sub.deliver(ev, b.cfg.SendTimeout) {
				return
			}
			b.logger.Warn("Dropping slow subscriber", "buffered", len(sub.events))
			b.metrics.RecordSubscriberDropped()
			b.Unsubscribe(sub)
		}(sub)
	}
	wg.Wait()
}

// SubscriberCount reports how many subscribers are connected.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops all subscribers and rejects further subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.closeEvents()
		b.metrics.SubscriberDisconnected()
	}
}
