package rides

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	pending   []models.RideOffer
	pendErr   error
	pollCalls int
	statuses  map[string]models.RideOffer
}

func (f *fakeBackend) PendingOffers(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.pendErr != nil {
		return nil, f.pendErr
	}
	return f.pending, nil
}

func (f *fakeBackend) OfferStatus(ctx context.Context, rideID string) (models.RideOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.statuses[rideID]
	if !ok {
		return models.RideOffer{}, errors.New("unknown ride")
	}
	return o, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

type fakeDuty struct {
	mu sync.Mutex
	st models.DutyStatus
}

func (f *fakeDuty) Current() models.DutyStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeDuty) set(st models.DutyStatus) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

type fakeBridge struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakeBridge) Start(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeBridge) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func available() models.DutyStatus {
	return models.DutyStatus{IsOnline: true, IsAvailable: true}
}

func TestPollOnceFoldsIntoSet(t *testing.T) {
	b := &fakeBackend{pending: []models.RideOffer{
		{RideID: "r1", Status: models.OfferPending},
		{RideID: "r2", Status: models.OfferPending},
	}}
	p := NewPoller(b, &fakeDuty{st: available()}, nil, nil, time.Second, discard())

	list, err := p.PollOnce(context.Background(), "drv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected verbatim list of 2, got %d", len(list))
	}
	if got := p.Offers(); len(got) != 2 || got[0].RideID != "r1" {
		t.Fatalf("unexpected set %+v", got)
	}
}

func TestPollOnceDeduplicatesByRideID(t *testing.T) {
	b := &fakeBackend{pending: []models.RideOffer{{RideID: "r1", Status: models.OfferPending}}}
	p := NewPoller(b, &fakeDuty{st: available()}, nil, nil, time.Second, discard())
	ctx := context.Background()

	if _, err := p.PollOnce(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.PollOnce(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if got := p.Offers(); len(got) != 1 {
		t.Fatalf("expected 1 unique offer, got %d", len(got))
	}
}

func TestRefreshRemovesTerminalOffer(t *testing.T) {
	b := &fakeBackend{
		pending:  []models.RideOffer{{RideID: "r1", Status: models.OfferPending}},
		statuses: map[string]models.RideOffer{"r1": {RideID: "r1", Status: models.OfferCancelled}},
	}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()
	p := NewPoller(b, &fakeDuty{st: available()}, nil, bus, time.Second, discard())
	ctx := context.Background()

	if _, err := p.PollOnce(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	outcome, err := p.RefreshOfferStatus(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Removed {
		t.Fatalf("expected Removed, got %v", outcome)
	}
	if len(p.Offers()) != 0 {
		t.Fatal("cancelled offer must leave the set")
	}

	var sawRemoved bool
	for len(ch) > 0 {
		if ev := <-ch; ev.Kind == events.OfferRemoved {
			sawRemoved = true
		}
	}
	if !sawRemoved {
		t.Fatal("expected OfferRemoved event")
	}
}

func TestRefreshUpsertsNonTerminal(t *testing.T) {
	b := &fakeBackend{
		statuses: map[string]models.RideOffer{"r1": {RideID: "r1", Status: "driver_arriving"}},
	}
	p := NewPoller(b, &fakeDuty{st: available()}, nil, nil, time.Second, discard())

	outcome, err := p.RefreshOfferStatus(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Updated {
		t.Fatalf("expected Updated, got %v", outcome)
	}
	got := p.Offers()
	if len(got) != 1 || got[0].Status != "driver_arriving" {
		t.Fatalf("expected upserted snapshot, got %+v", got)
	}
}

func TestDriverAssignedIsTerminal(t *testing.T) {
	b := &fakeBackend{
		pending:  []models.RideOffer{{RideID: "r1", Status: models.OfferPending}},
		statuses: map[string]models.RideOffer{"r1": {RideID: "r1", Status: models.OfferDriverAssigned}},
	}
	p := NewPoller(b, &fakeDuty{st: available()}, nil, nil, time.Second, discard())
	ctx := context.Background()
	if _, err := p.PollOnce(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if outcome, _ := p.RefreshOfferStatus(ctx, "r1"); outcome != Removed {
		t.Fatal("driver_assigned must remove the offer")
	}
}

func TestIneligibleTickDoesNotPoll(t *testing.T) {
	b := &fakeBackend{}
	duty := &fakeDuty{st: models.DutyStatus{IsOnline: true, IsAvailable: true, IsOnRide: true, CurrentRideID: "r9"}}
	bridge := &fakeBridge{}
	p := NewPoller(b, duty, bridge, nil, time.Second, discard())

	p.tick(context.Background(), "drv-1")
	if b.calls() != 0 {
		t.Fatalf("ineligible driver must not poll, got %d calls", b.calls())
	}
}

func TestLosingEligibilityStopsBridge(t *testing.T) {
	b := &fakeBackend{}
	duty := &fakeDuty{st: available()}
	bridge := &fakeBridge{}
	p := NewPoller(b, duty, bridge, nil, time.Second, discard())
	ctx := context.Background()

	p.tick(ctx, "drv-1")
	if bridge.starts != 1 {
		t.Fatalf("expected bridge started while eligible, got %d", bridge.starts)
	}

	duty.set(models.DutyStatus{IsOnline: true, IsAvailable: true, IsOnRide: true, CurrentRideID: "r1"})
	p.tick(ctx, "drv-1")
	if bridge.stops != 1 {
		t.Fatalf("expected bridge stopped on losing eligibility, got %d", bridge.stops)
	}

	// repeated ineligible ticks must not stop it again
	p.tick(ctx, "drv-1")
	if bridge.stops != 1 {
		t.Fatalf("bridge stop should be edge-triggered, got %d", bridge.stops)
	}
}

func TestFailedTickWaitsForNext(t *testing.T) {
	b := &fakeBackend{pendErr: errors.New("feed down")}
	p := NewPoller(b, &fakeDuty{st: available()}, nil, nil, time.Second, discard())
	ctx := context.Background()

	p.tick(ctx, "drv-1")
	p.tick(ctx, "drv-1")
	// no retry wrapping: exactly one backend call per tick
	if b.calls() != 2 {
		t.Fatalf("expected 1 call per tick, got %d", b.calls())
	}
}
