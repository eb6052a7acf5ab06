package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/models"
)

type fakeSource struct {
	mu      sync.Mutex
	samples []models.LocationSample
	err     error
	idx     int
}

func (f *fakeSource) Current(ctx context.Context) (models.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.LocationSample{}, f.err
	}
	s := f.samples[f.idx]
	if f.idx < len(f.samples)-1 {
		f.idx++
	}
	return s, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	errs  int // fail this many leading calls
	gate  chan struct{}
}

func (f *fakeSender) SendLocation(ctx context.Context, token string, p api.LocationPayload) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if n <= f.errs {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour // cycles driven manually in tests
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func armed(src Source, snd Sender, bus *events.Bus) *Reporter {
	r := NewReporter(testConfig(), src, snd, bus, discard())
	r.permission = true
	r.token = "tok"
	r.active = true
	r.stop = make(chan struct{})
	return r
}

func at(lat, lon float64, ts time.Time) models.LocationSample {
	return models.LocationSample{Latitude: lat, Longitude: lon, AccuracyMeters: 5, CapturedAt: ts, Provider: "gps"}
}

func TestSmallMoveWithinWindowIsSkipped(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{samples: []models.LocationSample{
		at(28.6139, 77.2090, base),
		at(28.6139, 77.20905, base.Add(10*time.Second)), // ~5m, 10s later
	}}
	snd := &fakeSender{}
	r := armed(src, snd, nil)
	ctx := context.Background()

	if err := r.cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.cycle(ctx); err != nil {
		t.Fatal(err)
	}
	// first fix always transmits; the 5m/10s follow-up must not
	if snd.count() != 1 {
		t.Fatalf("expected 1 send, got %d", snd.count())
	}
	// the skipped fix still becomes the observable current location
	cur := r.Current()
	if cur == nil || cur.Longitude != 77.20905 {
		t.Fatalf("expected current location updated on skip, got %+v", cur)
	}
}

func TestBigMoveAlwaysTransmits(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{samples: []models.LocationSample{
		at(28.6139, 77.2090, base),
		at(28.61401, 77.20910, base.Add(time.Second)), // ~15m, right away
	}}
	snd := &fakeSender{}
	r := armed(src, snd, nil)
	ctx := context.Background()

	if err := r.cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.cycle(ctx); err != nil {
		t.Fatal(err)
	}
	if snd.count() != 2 {
		t.Fatalf("expected 2 sends, got %d", snd.count())
	}
}

func TestInvalidFixRejected(t *testing.T) {
	cases := map[string]models.LocationSample{
		"null island": at(0, 0, time.Now()),
		"nan lat":     at(math.NaN(), 77.2, time.Now()),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			snd := &fakeSender{}
			r := armed(&fakeSource{samples: []models.LocationSample{s}}, snd, nil)
			err := r.cycle(context.Background())
			if !errors.Is(err, ErrInvalidLocation) {
				t.Fatalf("expected ErrInvalidLocation, got %v", err)
			}
			if snd.count() != 0 {
				t.Fatal("invalid fix must not be sent")
			}
		})
	}
}

func TestAcquireTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AcquireTimeout = 10 * time.Millisecond
	slow := &blockingSource{}
	r := NewReporter(cfg, slow, &fakeSender{}, nil, discard())
	r.permission, r.token, r.active = true, "tok", true
	r.stop = make(chan struct{})

	err := r.cycle(context.Background())
	if !errors.Is(err, ErrLocationTimeout) {
		t.Fatalf("expected ErrLocationTimeout, got %v", err)
	}
}

type blockingSource struct{}

func (b *blockingSource) Current(ctx context.Context) (models.LocationSample, error) {
	<-ctx.Done()
	return models.LocationSample{}, ctx.Err()
}

func TestRetryExhaustionDropsSample(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{samples: []models.LocationSample{
		at(28.6139, 77.2090, base),
		at(28.7000, 77.3000, base.Add(time.Minute)),
	}}
	snd := &fakeSender{errs: 4} // initial + 3 retries all fail
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()
	r := armed(src, snd, bus)
	ctx := context.Background()

	if err := r.cycle(ctx); err == nil {
		t.Fatal("expected final failure")
	}
	if snd.count() != 4 {
		t.Fatalf("expected 4 attempts, got %d", snd.count())
	}

	var sawFailure bool
	for len(ch) > 0 {
		if ev := <-ch; ev.Kind == events.LocationSendFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected LocationSendFailed event")
	}

	// the dropped sample never became last-sent, so the next distant
	// fix still transmits fresh
	if err := r.cycle(ctx); err != nil {
		t.Fatalf("next tick should send a fresh sample: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := armed(&fakeSource{samples: []models.LocationSample{at(1, 1, time.Now())}}, &fakeSender{}, nil)
	r.Stop()
	r.Stop()
	if r.Active() {
		t.Fatal("expected inactive after Stop")
	}
}

func TestStartGuards(t *testing.T) {
	src := &fakeSource{samples: []models.LocationSample{at(1, 1, time.Now())}}
	r := NewReporter(testConfig(), src, &fakeSender{}, nil, discard())

	r.Start() // neither token nor permission
	if r.Active() {
		t.Fatal("start without permission must be a no-op")
	}

	r.SetPermission(true)
	r.Start() // still no token
	if r.Active() {
		t.Fatal("start without token must be a no-op")
	}

	r.SetToken("tok") // auto-starts now that both gates pass
	if !r.Active() {
		t.Fatal("expected auto-start once token and permission are present")
	}
	r.Stop()
}

func TestLogoutTokenStopsReporter(t *testing.T) {
	src := &fakeSource{samples: []models.LocationSample{at(1, 1, time.Now())}}
	r := NewReporter(testConfig(), src, &fakeSender{}, nil, discard())
	r.SetPermission(true)
	r.SetToken("tok")
	if !r.Active() {
		t.Fatal("expected active")
	}
	r.SetToken("")
	if r.Active() {
		t.Fatal("expected stopped after token cleared")
	}
}

func TestForceUpdateRequiresActive(t *testing.T) {
	r := NewReporter(testConfig(), &fakeSource{samples: []models.LocationSample{at(1, 1, time.Now())}}, &fakeSender{}, nil, discard())
	if err := r.ForceUpdate(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestStaleCompletionCannotRegressLastSent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := at(28.6139, 77.2090, base)
	newer := at(28.7000, 77.3000, base.Add(time.Minute))

	r := armed(&fakeSource{samples: []models.LocationSample{older}}, &fakeSender{}, nil)

	// the newer send lands first
	r.mu.Lock()
	r.nextSeq = 2
	r.mu.Unlock()
	if err := r.send(context.Background(), "tok", models.AppStateActive, newer, 2); err != nil {
		t.Fatal(err)
	}
	// the older one was in flight with an earlier sequence number
	if err := r.send(context.Background(), "tok", models.AppStateActive, older, 1); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	last := *r.lastSent
	r.mu.Unlock()
	if last.Longitude != newer.Longitude {
		t.Fatalf("stale completion overwrote newer last-sent: %+v", last)
	}
}
