package duty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/observability"
	"github.com/example/driver-agent/internal/storage"
)

// ErrRechargeExpired blocks going online until the subscription is
// renewed. Checked locally; no network call is made.
var ErrRechargeExpired = errors.New("recharge expired, renew to go online")

// Backend is the slice of the API client the duty manager drives.
type Backend interface {
	ToggleWorkStatus(ctx context.Context, token string, online bool) (bool, error)
	AllDetails(ctx context.Context, token string) (models.ServerSnapshot, error)
}

// TokenSource yields the current auth token, empty when logged out.
type TokenSource interface {
	Token() string
}

// Manager owns the duty/availability state. All mutation goes through
// its methods; readers get value snapshots. Toggle is confirm-then-
// apply: local state changes only after the backend acknowledges.
type Manager struct {
	backend Backend
	tokens  TokenSource
	kv      storage.KV
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	status models.DutyStatus
}

func NewManager(backend Backend, tokens TokenSource, kv storage.KV, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		tokens:  tokens,
		kv:      kv,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Restore loads the persisted duty state. Fields absent in storage take
// their defaults; it never fails and always marks the state
// initialized, even when storage is unreachable.
func (m *Manager) Restore(ctx context.Context) models.DutyStatus {
	st := models.DutyStatus{
		IsOnline:      storage.LoadBool(ctx, m.kv, storage.KeyDutyStatus),
		IsOnRide:      storage.LoadBool(ctx, m.kv, storage.KeyIsOnRide),
		IsAvailable:   storage.LoadBool(ctx, m.kv, storage.KeyIsAvailable),
		CurrentRideID: storage.LoadString(ctx, m.kv, storage.KeyCurrentRideID, ""),
		Earnings:      storage.LoadFloat(ctx, m.kv, storage.KeyEarnings),
		TotalEarnings: storage.LoadFloat(ctx, m.kv, storage.KeyTotalEarnings),
		Trips:         storage.LoadInt(ctx, m.kv, storage.KeyTrips),
		TotalRides:    storage.LoadInt(ctx, m.kv, storage.KeyTotalRides),
		Hours:         storage.LoadString(ctx, m.kv, storage.KeyHours, "0h 0m"),
		LoggedInHours: storage.LoadString(ctx, m.kv, storage.KeyLoggedInHours, "0h 0m"),
		AverageRating: storage.LoadFloat(ctx, m.kv, storage.KeyAverageRating),
		Initialized:   true,
	}
	if ts := storage.LoadString(ctx, m.kv, storage.KeyLastStatusChange, ""); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			st.LastStatusChange = t
		}
	}
	if ts := storage.LoadString(ctx, m.kv, storage.KeyLastUpdated, ""); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			st.LastUpdated = t
		}
	}

	// the keys are written independently, so a crash between writes can
	// leave a combination no mutation ever produced; normalize to the
	// cross-field invariants instead of trusting storage
	if !st.IsOnline {
		st.IsAvailable = false
	}
	if st.CurrentRideID == "" {
		st.IsOnRide = false
	}

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	m.setOnlineGauge(st.IsOnline)
	m.logger.Info("duty state restored", "online", st.IsOnline, "available", st.IsAvailable, "on_ride", st.IsOnRide)
	return st
}

// Toggle flips the driver online/offline. Going online with an expired
// recharge short-circuits before any network call. On backend success
// the new status is persisted and a full snapshot refresh runs as a
// side effect; on failure the state is left untouched.
func (m *Manager) Toggle(ctx context.Context, profile *models.DriverProfile) (models.DutyStatus, error) {
	token := m.tokens.Token()
	if token == "" {
		observability.DutyToggles.WithLabelValues("auth_error").Inc()
		return m.Current(), fmt.Errorf("toggle duty: %w", api.ErrAuth)
	}

	goingOnline := !m.Current().IsOnline
	if goingOnline && profile != nil && profile.Recharge != nil && profile.Recharge.Expired(m.now()) {
		observability.DutyToggles.WithLabelValues("recharge_expired").Inc()
		return m.Current(), ErrRechargeExpired
	}

	confirmed, err := m.backend.ToggleWorkStatus(ctx, token, goingOnline)
	if err != nil {
		observability.DutyToggles.WithLabelValues("error").Inc()
		return m.Current(), fmt.Errorf("toggle duty: %w", err)
	}

	changedAt := m.now()
	m.mu.Lock()
	m.status.IsOnline = confirmed
	if !confirmed {
		// offline implies not available
		m.status.IsAvailable = false
	}
	m.status.LastStatusChange = changedAt
	m.status.Initialized = true
	st := m.status
	m.mu.Unlock()

	m.kv.Save(ctx, storage.KeyDutyStatus, confirmed)
	if !confirmed {
		// offline implies not available; persist it so a restart
		// cannot resurrect availability from a stale snapshot write
		m.kv.Save(ctx, storage.KeyIsAvailable, false)
	}
	m.kv.Save(ctx, storage.KeyLastStatusChange, changedAt.Format(time.RFC3339))
	m.setOnlineGauge(confirmed)
	observability.DutyToggles.WithLabelValues("ok").Inc()
	m.publish(st)
	m.logger.Info("duty toggled", "online", confirmed)

	// Re-fetch the authoritative snapshot; best-effort, the toggle
	// already succeeded.
	if _, err := m.Refresh(ctx); err != nil {
		m.logger.Warn("post-toggle refresh failed", "error", err)
	}
	return m.Current(), nil
}

// Refresh pulls getMyAllDetails and applies it wholesale.
func (m *Manager) Refresh(ctx context.Context) (models.DutyStatus, error) {
	token := m.tokens.Token()
	if token == "" {
		return m.Current(), fmt.Errorf("refresh duty: %w", api.ErrAuth)
	}
	snap, err := m.backend.AllDetails(ctx, token)
	if err != nil {
		return m.Current(), fmt.Errorf("refresh duty: %w", err)
	}
	return m.ApplyServerSnapshot(ctx, snap), nil
}

// ApplyServerSnapshot wholesale-replaces the duty fields from an
// authoritative server payload and persists every field. Each write is
// independent and best-effort; there is no multi-key rollback.
func (m *Manager) ApplyServerSnapshot(ctx context.Context, snap models.ServerSnapshot) models.DutyStatus {
	now := m.now()
	rideID := snap.OnRideID
	if rideID == "" && snap.CurrentRide != nil {
		rideID = snap.CurrentRide.RideID
	}
	st := models.DutyStatus{
		IsOnRide:      rideID != "",
		IsAvailable:   snap.IsAvailable,
		IsOnline:      snap.IsAvailable,
		CurrentRideID: rideID,
		TotalRides:    snap.TotalRides,
		TotalEarnings: snap.TotalEarnings,
		AverageRating: snap.AverageRating,
		LoggedInHours: defaultHours(snap.TotalHours),
		Earnings:      snap.TodayEarnings,
		Trips:         snap.TodayTrips,
		Hours:         defaultHours(snap.TodayHours),
		LastUpdated:   now,
		Initialized:   true,
	}

	m.mu.Lock()
	st.LastStatusChange = m.status.LastStatusChange
	m.status = st
	m.mu.Unlock()

	m.kv.Save(ctx, storage.KeyDutyStatus, st.IsOnline)
	m.kv.Save(ctx, storage.KeyIsOnRide, st.IsOnRide)
	m.kv.Save(ctx, storage.KeyCurrentRideID, st.CurrentRideID)
	m.kv.Save(ctx, storage.KeyIsAvailable, st.IsAvailable)
	m.kv.Save(ctx, storage.KeyEarnings, st.Earnings)
	m.kv.Save(ctx, storage.KeyTotalEarnings, st.TotalEarnings)
	m.kv.Save(ctx, storage.KeyTrips, st.Trips)
	m.kv.Save(ctx, storage.KeyTotalRides, st.TotalRides)
	m.kv.Save(ctx, storage.KeyHours, st.Hours)
	m.kv.Save(ctx, storage.KeyLoggedInHours, st.LoggedInHours)
	m.kv.Save(ctx, storage.KeyAverageRating, st.AverageRating)
	m.kv.Save(ctx, storage.KeyLastUpdated, now.Format(time.RFC3339))

	m.setOnlineGauge(st.IsOnline)
	m.publish(st)
	return st
}

// Reset returns the state to defaults and removes every persisted key.
// Used on logout; the state stays initialized.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.status = models.DutyStatus{Hours: "0h 0m", LoggedInHours: "0h 0m", Initialized: true}
	st := m.status
	m.mu.Unlock()

	for _, key := range []string{
		storage.KeyDutyStatus, storage.KeyIsOnRide, storage.KeyCurrentRideID, storage.KeyIsAvailable,
		storage.KeyEarnings, storage.KeyTotalEarnings, storage.KeyTrips,
		storage.KeyTotalRides, storage.KeyHours, storage.KeyLoggedInHours,
		storage.KeyAverageRating, storage.KeyLastStatusChange, storage.KeyLastUpdated,
	} {
		m.kv.Remove(ctx, key)
	}
	m.setOnlineGauge(false)
	m.publish(st)
}

// Current returns a value snapshot; callers never mutate shared state.
func (m *Manager) Current() models.DutyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) publish(st models.DutyStatus) {
	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.DutyChanged, Duty: &st})
	}
}

func (m *Manager) setOnlineGauge(online bool) {
	if online {
		observability.DutyOnline.Set(1)
	} else {
		observability.DutyOnline.Set(0)
	}
}

func defaultHours(v string) string {
	if v == "" {
		return "0h 0m"
	}
	return v
}
