package earnings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/driver-agent/internal/models"
)

func TestSummarizePrefersPricingBlock(t *testing.T) {
	rides := []models.RideRecord{
		{ID: "r1", Status: "completed", Fare: 100, Pricing: &models.RidePricing{TotalFare: 120.5}},
		{ID: "r2", Status: "completed", Fare: 80},
		{ID: "r3", Status: "cancelled"},
	}
	s := Summarize(rides)
	if s.TotalEarnings != 200.5 {
		t.Fatalf("expected 200.5, got %f", s.TotalEarnings)
	}
	if s.TotalRides != 3 {
		t.Fatalf("expected 3 rides, got %d", s.TotalRides)
	}
	if s.ByStatus["completed"] != 2 || s.ByStatus["cancelled"] != 1 {
		t.Fatalf("unexpected status counts %+v", s.ByStatus)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.TotalEarnings != 0 || s.TotalRides != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

type fakeRides struct {
	rides []models.RideRecord
	err   error
}

func (f *fakeRides) AllRides(ctx context.Context, token string) ([]models.RideRecord, error) {
	return f.rides, f.err
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordingArchive struct {
	saved []string
	fail  bool
}

func (a *recordingArchive) SaveRide(ctx context.Context, r models.RideRecord) error {
	if a.fail {
		return errors.New("db down")
	}
	a.saved = append(a.saved, r.ID)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchArchivesRows(t *testing.T) {
	arch := &recordingArchive{}
	svc := NewService(&fakeRides{rides: []models.RideRecord{{ID: "r1", Fare: 50}}}, staticToken("tok"), arch, discard())

	rides, sum, err := svc.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rides) != 1 || sum.TotalEarnings != 50 {
		t.Fatalf("unexpected result %v %+v", rides, sum)
	}
	if len(arch.saved) != 1 || arch.saved[0] != "r1" {
		t.Fatalf("expected ride archived, got %v", arch.saved)
	}
}

func TestFetchSurvivesArchiveFailure(t *testing.T) {
	arch := &recordingArchive{fail: true}
	svc := NewService(&fakeRides{rides: []models.RideRecord{{ID: "r1"}}}, staticToken("tok"), arch, discard())
	if _, _, err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("archive failure must not fail the fetch: %v", err)
	}
}

func TestFetchRequiresToken(t *testing.T) {
	svc := NewService(&fakeRides{}, staticToken(""), nil, discard())
	if _, _, err := svc.Fetch(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}
