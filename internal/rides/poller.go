package rides

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/observability"
)

// Backend is the slice of the API client the poller uses.
type Backend interface {
	PendingOffers(ctx context.Context, driverID string) ([]models.RideOffer, error)
	OfferStatus(ctx context.Context, rideID string) (models.RideOffer, error)
}

// DutySource exposes the current duty snapshot for the eligibility gate.
type DutySource interface {
	Current() models.DutyStatus
}

// Bridge is the platform-side background poll helper (a foreground
// service on the device). The poller starts it while eligible and must
// stop it the moment eligibility is lost.
type Bridge interface {
	Start(driverID string) error
	Stop() error
}

// NopBridge is used when no platform bridge is wired in.
type NopBridge struct{}

func (NopBridge) Start(string) error { return nil }
func (NopBridge) Stop() error        { return nil }

// RefreshOutcome says what RefreshOfferStatus did to the active set.
type RefreshOutcome int

const (
	Updated RefreshOutcome = iota
	Removed
)

// Poller maintains the active ride-offer set, keyed by ride id, and
// polls the backend for new offers on a fixed cadence while the driver
// is eligible to receive them.
type Poller struct {
	backend  Backend
	duty     DutySource
	bridge   Bridge
	bus      *events.Bus
	logger   *slog.Logger
	interval time.Duration

	mu            sync.Mutex
	offers        map[string]models.RideOffer
	bridgeStarted bool
}

func NewPoller(backend Backend, duty DutySource, bridge Bridge, bus *events.Bus, interval time.Duration, logger *slog.Logger) *Poller {
	if bridge == nil {
		bridge = NopBridge{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		backend:  backend,
		duty:     duty,
		bridge:   bridge,
		bus:      bus,
		logger:   logger,
		interval: interval,
		offers:   make(map[string]models.RideOffer),
	}
}

// Eligible gates polling: the driver must be available, with no active
// ride in either the on-ride flag or the current-ride slot.
func (p *Poller) Eligible() bool {
	st := p.duty.Current()
	return st.IsAvailable && !st.IsOnRide && st.CurrentRideID == ""
}

// PollOnce fetches the pending offers for the driver and folds them
// into the active set. The server's list is returned verbatim. No
// retry here; the repeating cycle is the retry.
func (p *Poller) PollOnce(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	list, err := p.backend.PendingOffers(ctx, driverID)
	if err != nil {
		observability.PollErrors.Inc()
		return nil, err
	}

	p.mu.Lock()
	var fresh []models.RideOffer
	for _, offer := range list {
		if offer.RideID == "" {
			continue
		}
		if _, seen := p.offers[offer.RideID]; !seen {
			fresh = append(fresh, offer)
		}
		p.offers[offer.RideID] = offer
	}
	p.mu.Unlock()

	observability.OffersSeen.Add(float64(len(list)))
	p.updateGauge()
	for i := range fresh {
		p.publish(events.Event{Kind: events.OfferReceived, Offer: &fresh[i]})
	}
	return list, nil
}

// RefreshOfferStatus re-fetches one offer. Terminal statuses remove it
// from the set; anything else upserts the new snapshot.
func (p *Poller) RefreshOfferStatus(ctx context.Context, rideID string) (RefreshOutcome, error) {
	offer, err := p.backend.OfferStatus(ctx, rideID)
	if err != nil {
		return Updated, err
	}
	if offer.RideID == "" {
		offer.RideID = rideID
	}

	if offer.Status.Terminal() {
		p.mu.Lock()
		delete(p.offers, rideID)
		p.mu.Unlock()
		observability.OffersRemoved.Inc()
		p.updateGauge()
		p.publish(events.Event{Kind: events.OfferRemoved, Offer: &offer})
		return Removed, nil
	}

	p.mu.Lock()
	p.offers[offer.RideID] = offer
	p.mu.Unlock()
	p.updateGauge()
	return Updated, nil
}

// Offers returns a stable-ordered snapshot of the active set.
func (p *Poller) Offers() []models.RideOffer {
	p.mu.Lock()
	out := make([]models.RideOffer, 0, len(p.offers))
	for _, o := range p.offers {
		out = append(out, o)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RideID < out[j].RideID })
	return out
}

// Run drives the poll cadence until ctx is cancelled. Every tick
// re-checks eligibility; an ineligible tick stops the platform bridge
// and idles. A failed poll logs and waits for the next tick.
func (p *Poller) Run(ctx context.Context, driverID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.stopBridge()

	p.logger.Info("offer poller running", "driver_id", driverID, "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, driverID)
		}
	}
}

func (p *Poller) tick(ctx context.Context, driverID string) {
	if !p.Eligible() {
		p.stopBridge()
		return
	}
	p.startBridge(driverID)
	if _, err := p.PollOnce(ctx, driverID); err != nil {
		p.logger.Warn("offer poll failed", "error", err)
		return
	}
	// sweep offers that went terminal since the last pass
	for _, o := range p.Offers() {
		if _, err := p.RefreshOfferStatus(ctx, o.RideID); err != nil {
			p.logger.Warn("offer refresh failed", "ride_id", o.RideID, "error", err)
		}
	}
}

func (p *Poller) startBridge(driverID string) {
	p.mu.Lock()
	already := p.bridgeStarted
	p.bridgeStarted = true
	p.mu.Unlock()
	if already {
		return
	}
	if err := p.bridge.Start(driverID); err != nil {
		p.logger.Warn("poll bridge start failed", "error", err)
	}
}

func (p *Poller) stopBridge() {
	p.mu.Lock()
	started := p.bridgeStarted
	p.bridgeStarted = false
	p.mu.Unlock()
	if !started {
		return
	}
	if err := p.bridge.Stop(); err != nil {
		p.logger.Warn("poll bridge stop failed", "error", err)
	}
}

func (p *Poller) updateGauge() {
	p.mu.Lock()
	n := len(p.offers)
	p.mu.Unlock()
	observability.ActiveOffers.Set(float64(n))
}

func (p *Poller) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
