package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/observability"
	"github.com/example/driver-agent/internal/retry"
)

var (
	// ErrNoPermission means the platform location capability is not
	// usable; dependent services must not start.
	ErrNoPermission = errors.New("location permission not granted")
	// ErrLocationTimeout means no fix arrived inside the acquire window.
	ErrLocationTimeout = errors.New("location request timed out")
	// ErrInvalidLocation covers NaN coordinates and the (0,0) sentinel.
	ErrInvalidLocation = errors.New("invalid location data received")
	// ErrNotActive is returned by ForceUpdate while the reporter is stopped.
	ErrNotActive = errors.New("location reporter is not active")
)

// Source is the platform location capability.
type Source interface {
	Current(ctx context.Context) (models.LocationSample, error)
}

// Sender delivers one fix to the backend.
type Sender interface {
	SendLocation(ctx context.Context, token string, p api.LocationPayload) error
}

// Telemetry optionally mirrors accepted fixes onto a stream.
type Telemetry interface {
	PublishFix(ctx context.Context, s models.LocationSample) error
}

type Config struct {
	Interval          time.Duration
	AcquireTimeout    time.Duration
	MinDistanceMeters float64
	MinSendInterval   time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:          4 * time.Second,
		AcquireTimeout:    10 * time.Second,
		MinDistanceMeters: 10,
		MinSendInterval:   30 * time.Second,
		MaxRetries:        3,
		RetryBaseDelay:    2 * time.Second,
	}
}

// Reporter samples the device location on a fixed cadence and ships
// significant moves to the backend. It keeps running in background;
// the host stops it explicitly by going off duty or logging out.
type Reporter struct {
	cfg       Config
	source    Source
	sender    Sender
	telemetry Telemetry
	bus       *events.Bus
	logger    *slog.Logger
	mover     geo.Mover

	mu          sync.Mutex
	active      bool
	permission  bool
	token       string
	appState    models.AppState
	current     *models.LocationSample
	lastSent    *models.LocationSample
	lastSentSeq uint64
	nextSeq     uint64
	stop        chan struct{}
}

func NewReporter(cfg Config, source Source, sender Sender, bus *events.Bus, logger *slog.Logger) *Reporter {
	return &Reporter{
		cfg:      cfg,
		source:   source,
		sender:   sender,
		bus:      bus,
		logger:   logger,
		mover:    geo.Mover{MinDistanceMeters: cfg.MinDistanceMeters, MinInterval: cfg.MinSendInterval},
		appState: models.AppStateActive,
	}
}

// SetTelemetry attaches an optional fix mirror. Call before Start.
func (r *Reporter) SetTelemetry(t Telemetry) { r.telemetry = t }

// SetPermission records the platform permission grant. Granting while a
// token is already present auto-starts the reporter.
func (r *Reporter) SetPermission(granted bool) {
	r.mu.Lock()
	r.permission = granted
	shouldStart := granted && r.token != "" && !r.active
	r.mu.Unlock()
	if !granted {
		r.Stop()
		return
	}
	if shouldStart {
		r.Start()
	}
}

// SetToken installs the auth token. A token arriving while permission
// is already granted auto-starts the service; an empty token (logout)
// stops it.
func (r *Reporter) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	shouldStart := token != "" && r.permission && !r.active
	r.mu.Unlock()
	if token == "" {
		r.Stop()
		return
	}
	if shouldStart {
		r.Start()
	}
}

// Start arms the periodic cycle. Guarded: a missing token or permission,
// or an already-running reporter, makes it a silent no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.active || !r.permission || r.token == "" {
		r.mu.Unlock()
		r.logger.Debug("reporter start declined")
		return
	}
	r.active = true
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	r.logger.Info("location reporter started", "interval", r.cfg.Interval)
	r.publish(events.Event{Kind: events.ServiceStarted, Service: "location-reporter"})

	// immediate first cycle, then the fixed-interval cadence
	go r.cycle(context.Background())
	go r.loop(stop)
}

func (r *Reporter) loop(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// each cycle runs on its own goroutine so a slow send
			// never delays the cadence; the sequence guard below
			// keeps out-of-order completions from regressing state
			go r.cycle(context.Background())
		}
	}
}

// Stop clears the timer and deactivates the reporter. Idempotent;
// in-flight sends finish but cannot mutate state once inactive.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	close(r.stop)
	r.stop = nil
	r.mu.Unlock()

	r.logger.Info("location reporter stopped")
	r.publish(events.Event{Kind: events.ServiceStopped, Service: "location-reporter"})
}

// Active reports whether the periodic cycle is armed.
func (r *Reporter) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Current returns the most recent fix, sent or not.
func (r *Reporter) Current() *models.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// HandleAppState reacts to host lifecycle changes. Background keeps the
// reporter running; returning to foreground forces an extra immediate
// cycle outside the periodic cadence.
func (r *Reporter) HandleAppState(next models.AppState) {
	r.mu.Lock()
	r.appState = next
	active := r.active
	canStart := !r.active && r.permission && r.token != ""
	r.mu.Unlock()

	switch next {
	case models.AppStateActive:
		if active {
			go r.cycle(context.Background())
		} else if canStart {
			r.Start()
		}
	case models.AppStateBackground:
		r.logger.Debug("continuing location updates in background")
	}
}

// ForceUpdate runs one sample+send cycle now.
func (r *Reporter) ForceUpdate(ctx context.Context) error {
	if !r.Active() {
		return ErrNotActive
	}
	return r.cycle(ctx)
}

// cycle acquires one fix, decides whether it is worth transmitting, and
// sends it with bounded retry.
func (r *Reporter) cycle(ctx context.Context) error {
	sample, err := r.acquire(ctx)
	if err != nil {
		r.logger.Warn("location acquire failed", "error", err)
		return err
	}

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.current = &sample
	significant := r.mover.Significant(r.lastSent, sample)
	var seq uint64
	if significant {
		r.nextSeq++
		seq = r.nextSeq
	}
	token := r.token
	appState := r.appState
	r.mu.Unlock()

	r.publish(events.Event{Kind: events.LocationUpdated, Location: &sample})

	if !significant {
		observability.LocationsSkipped.Inc()
		r.logger.Debug("location change not significant, skipping send")
		return nil
	}
	return r.send(ctx, token, appState, sample, seq)
}

func (r *Reporter) acquire(ctx context.Context) (models.LocationSample, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
	defer cancel()

	sample, err := r.source.Current(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.LocationSample{}, ErrLocationTimeout
		}
		return models.LocationSample{}, fmt.Errorf("acquire location: %w", err)
	}
	if !sample.Valid() {
		return models.LocationSample{}, ErrInvalidLocation
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}
	if sample.Provider == "" {
		sample.Provider = "gps"
	}
	return sample, nil
}

func (r *Reporter) send(ctx context.Context, token string, appState models.AppState, sample models.LocationSample, seq uint64) error {
	payload := api.LocationPayload{
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.AccuracyMeters,
		Timestamp: sample.CapturedAt.UnixMilli(),
		AppState:  appState,
		Provider:  sample.Provider,
	}

	policy := retry.Policy{MaxAttempts: r.cfg.MaxRetries, BaseDelay: r.cfg.RetryBaseDelay}
	attempt := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			observability.LocationRetries.Inc()
		}
		attempt++
		return r.sender.SendLocation(ctx, token, payload)
	})
	if err != nil {
		observability.LocationsFailed.Inc()
		r.logger.Error("location send exhausted retries", "error", err)
		r.publish(events.Event{Kind: events.LocationSendFailed, Location: &sample, Err: err.Error()})
		// drop the sample; the next tick produces a fresh one
		return err
	}

	r.mu.Lock()
	// an older in-flight send must not overwrite a newer landed one
	if r.active && seq > r.lastSentSeq {
		s := sample
		r.lastSent = &s
		r.lastSentSeq = seq
	}
	r.mu.Unlock()

	observability.LocationsSent.Inc()
	r.publish(events.Event{Kind: events.LocationSent, Location: &sample})

	if r.telemetry != nil {
		if terr := r.telemetry.PublishFix(ctx, sample); terr != nil {
			r.logger.Warn("telemetry publish failed", "error", terr)
		}
	}
	return nil
}

func (r *Reporter) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}
