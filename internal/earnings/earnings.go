package earnings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/storage"
)

// Backend is the slice of the API client the earnings view needs.
type Backend interface {
	AllRides(ctx context.Context, token string) ([]models.RideRecord, error)
}

// TokenSource yields the current auth token.
type TokenSource interface {
	Token() string
}

// Summary is the rollup shown on the earnings screen.
type Summary struct {
	TotalEarnings float64        `json:"total_earnings"`
	TotalRides    int            `json:"total_rides"`
	ByStatus      map[string]int `json:"by_status"`
}

// Summarize folds ride history into the earnings rollup. The itemized
// pricing block wins over the flat fare field when both are present.
func Summarize(rides []models.RideRecord) Summary {
	s := Summary{TotalRides: len(rides), ByStatus: make(map[string]int)}
	for _, r := range rides {
		s.TotalEarnings += r.Total()
		s.ByStatus[r.Status]++
	}
	return s
}

// Service fetches ride history and keeps the optional archive current.
type Service struct {
	backend Backend
	tokens  TokenSource
	archive storage.RideArchive
	logger  *slog.Logger
}

func NewService(backend Backend, tokens TokenSource, archive storage.RideArchive, logger *slog.Logger) *Service {
	return &Service{backend: backend, tokens: tokens, archive: archive, logger: logger}
}

// Fetch pulls the full ride history and its summary. Archiving is
// best-effort; a failed row write never fails the fetch.
func (s *Service) Fetch(ctx context.Context) ([]models.RideRecord, Summary, error) {
	token := s.tokens.Token()
	if token == "" {
		return nil, Summary{}, fmt.Errorf("fetch earnings: %w", api.ErrAuth)
	}
	rides, err := s.backend.AllRides(ctx, token)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("fetch earnings: %w", err)
	}

	if s.archive != nil {
		for _, r := range rides {
			if err := s.archive.SaveRide(ctx, r); err != nil {
				s.logger.Warn("ride archive write failed", "ride_id", r.ID, "error", err)
			}
		}
	}
	return rides, Summarize(rides), nil
}
