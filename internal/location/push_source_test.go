package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/driver-agent/internal/models"
)

func TestPushSourceBlocksUntilFirstFix(t *testing.T) {
	s := NewPushSource(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Current(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline before any fix, got %v", err)
	}

	if err := s.Push(models.LocationSample{Latitude: 28.61, Longitude: 77.21}); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := s.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got.Latitude != 28.61 {
		t.Fatalf("unexpected fix: %+v", got)
	}
	if got.CapturedAt.IsZero() {
		t.Fatal("push should stamp the capture time")
	}
}

func TestPushSourceRejectsInvalidFix(t *testing.T) {
	s := NewPushSource(0)
	if err := s.Push(models.LocationSample{}); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation for a zero fix, got %v", err)
	}
}

func TestPushSourceStaleFixTimesOut(t *testing.T) {
	s := NewPushSource(50 * time.Millisecond)
	s.Push(models.LocationSample{
		Latitude:   28.61,
		Longitude:  77.21,
		CapturedAt: time.Now().Add(-time.Second),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Current(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stale fix must not be returned, got %v", err)
	}

	s.Push(models.LocationSample{Latitude: 28.62, Longitude: 77.22})
	got, err := s.Current(context.Background())
	if err != nil || got.Latitude != 28.62 {
		t.Fatalf("fresh fix should come through: %v %+v", err, got)
	}
}
