package events

import (
	"testing"

	"github.com/example/driver-agent/internal/models"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Kind: DutyChanged, Duty: &models.DutyStatus{IsOnline: true}})

	ev := <-ch
	if ev.Kind != DutyChanged || ev.Duty == nil || !ev.Duty.IsOnline {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatal("Publish should stamp At")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	// second publish must not block even though nobody is draining
	b.Publish(Event{Kind: ServiceStarted, Service: "reporter"})
	b.Publish(Event{Kind: ServiceStopped, Service: "reporter"})

	ev := <-ch
	if ev.Kind != ServiceStarted {
		t.Fatalf("expected the first event to survive, got %s", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected overflow event dropped, got %s", ev.Kind)
	default:
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	cancel()
	cancel()
	// publishing after cancel must not panic on the closed channel
	b.Publish(Event{Kind: OfferReceived})
}
