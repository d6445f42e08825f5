package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroadcaster() *Broadcaster {
	return New(Config{BufferSize: 4, SendTimeout: 20 * time.Millisecond}, quietLogger(), nil)
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()
	if b.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount())
	}

	b.Publish(Event{Type: EventStatus, Data: "capturing"})

	for _, sub := range []*Subscriber{a, c} {
		select {
		case ev := <-sub.Events():
			if ev.Type != EventStatus {
				t.Errorf("expected status event, got %q", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	slow := b.Subscribe()
	fast := b.Subscribe()

	// Fill the slow subscriber's buffer and push one past it; the slow one
	// must be dropped without stalling delivery to the fast one.
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventStatus, Data: i})
		<-fast.Events()
	}

	if b.SubscriberCount() != 1 {
		t.Errorf("expected slow subscriber to be dropped, count=%d", b.SubscriberCount())
	}

	// The dropped subscriber's channel is closed after its buffer drains.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("dropped subscriber's channel never closed")
		}
	}
}

func TestBroadcasterDropsStuckSubscribersInParallel(t *testing.T) {
	timeout := 200 * time.Millisecond
	b := New(Config{BufferSize: 1, SendTimeout: timeout}, quietLogger(), nil)
	defer b.Close()

	b.Subscribe() // stuck: never drained
	b.Subscribe() // stuck: never drained
	fast := b.Subscribe()

	// First publish fills every buffer; only the fast subscriber drains.
	b.Publish(Event{Type: EventStatus, Data: 0})
	<-fast.Events()

	// Both stuck subscribers must time out concurrently, so the publish
	// takes roughly one timeout, not one per stuck subscriber.
	start := time.Now()
	b.Publish(Event{Type: EventStatus, Data: 1})
	elapsed := time.Since(start)

	if elapsed >= 2*timeout {
		t.Errorf("publish took %v, stuck subscribers were not handled in parallel", elapsed)
	}
	if b.SubscriberCount() != 1 {
		t.Errorf("expected only the fast subscriber to remain, count=%d", b.SubscriberCount())
	}
	select {
	case ev := <-fast.Events():
		if ev.Data != 1 {
			t.Errorf("fast subscriber got %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("fast subscriber never received the event")
	}
}

func TestTranscriptionEventWireFormat(t *testing.T) {
	data, err := json.Marshal(TranscriptionData{
		SessionID:      "sess",
		Sequence:       3,
		Text:           "hola",
		Confidence:     0.9,
		ProcessingTime: 0.42,
		Timestamp:      time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"session_id", "sequence", "text", "confidence", "processing_time", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire payload missing %q: %s", key, data)
		}
	}
	if m["processing_time"] != 0.42 {
		t.Errorf("processing_time = %v, want seconds as a number", m["processing_time"])
	}
}

func TestBroadcasterUnsubscribeIdempotent(t *testing.T) {
	b := newTestBroadcaster()
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call must be a no-op
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestBroadcasterCloseRejectsSubscribe(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe()
	b.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("expected subscriber channel closed on shutdown")
	}
	if b.Subscribe() != nil {
		t.Error("expected Subscribe to return nil after Close")
	}
	// Publish after close must not panic.
	b.Publish(Event{Type: EventStatus, Data: "late"})
}
