package events

import (
	"sync"
	"time"

	"github.com/example/driver-agent/internal/models"
)

type Kind string

const (
	LocationUpdated    Kind = "location_updated"
	LocationSent       Kind = "location_sent"
	LocationSendFailed Kind = "location_send_failed"
	DutyChanged        Kind = "duty_changed"
	OfferReceived      Kind = "offer_received"
	OfferRemoved       Kind = "offer_removed"
	ServiceStarted     Kind = "service_started"
	ServiceStopped     Kind = "service_stopped"
)

// Event carries one typed payload; exactly one of the pointer fields is
// set depending on Kind.
type Event struct {
	Kind     Kind                   `json:"kind"`
	At       time.Time              `json:"at"`
	Location *models.LocationSample `json:"location,omitempty"`
	Duty     *models.DutyStatus     `json:"duty,omitempty"`
	Offer    *models.RideOffer      `json:"offer,omitempty"`
	Service  string                 `json:"service,omitempty"`
	Err      string                 `json:"error,omitempty"`
}

// Bus fans events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining loses events rather than blocking the
// publishing service loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and a cancel func that
// closes it. Safe to call cancel more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; drop
		}
	}
}
