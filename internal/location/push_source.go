package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// PushSource adapts externally reported fixes to the Source interface.
// The device layer pushes raw fixes in; Current hands out the freshest
// one, blocking until the first fix arrives. A fix older than MaxAge is
// treated as no fix at all, so a stalled device layer surfaces as an
// acquire timeout instead of a frozen position.
type PushSource struct {
	MaxAge time.Duration

	mu     sync.Mutex
	latest *models.LocationSample
	first  chan struct{}
	once   sync.Once
}

func NewPushSource(maxAge time.Duration) *PushSource {
	return &PushSource{MaxAge: maxAge, first: make(chan struct{})}
}

// Push records a fix. Invalid fixes are dropped at the door.
func (s *PushSource) Push(sample models.LocationSample) error {
	if !sample.Valid() {
		return ErrInvalidLocation
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}
	s.mu.Lock()
	s.latest = &sample
	s.mu.Unlock()
	s.once.Do(func() { close(s.first) })
	return nil
}

func (s *PushSource) Current(ctx context.Context) (models.LocationSample, error) {
	select {
	case <-s.first:
	case <-ctx.Done():
		return models.LocationSample{}, ctx.Err()
	}

	s.mu.Lock()
	sample := *s.latest
	s.mu.Unlock()

	if s.MaxAge > 0 && time.Since(sample.CapturedAt) > s.MaxAge {
		// wait out the context so the caller sees a timeout, the
		// stale fix must not leak through
		<-ctx.Done()
		return models.LocationSample{}, ctx.Err()
	}
	return sample, nil
}
