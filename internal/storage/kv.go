package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Well-known keys. One flat namespace, no schema versioning; every
// field is written independently and best-effort.
const (
	KeyDutyStatus       = "dutyStatus"
	KeyIsOnRide         = "isOnRide"
	KeyCurrentRideID    = "currentRideId"
	KeyIsAvailable      = "isAvailable"
	KeyEarnings         = "earnings"
	KeyTotalEarnings    = "totalEarnings"
	KeyTrips            = "trips"
	KeyTotalRides       = "totalRides"
	KeyHours            = "hours"
	KeyLoggedInHours    = "loggedInHours"
	KeyAverageRating    = "averageRating"
	KeyLastStatusChange = "lastStatusChange"
	KeyLastUpdated      = "lastUpdated"
	KeyAuthToken        = "authToken"
	KeyAccountStatus    = "accountStatus"
	KeyDocumentUpload   = "isDocumentUpload"
	KeyDocumentVerify   = "documentVerify"
	KeyAuthenticated    = "isAuthenticated"
)

// KV is the flat key/value gateway the state managers persist through.
// Save never reports an error to the caller; implementations log and
// move on. Load returns false for a never-set key.
type KV interface {
	Save(ctx context.Context, key string, value any)
	Load(ctx context.Context, key string) (any, bool)
	Remove(ctx context.Context, key string)
}

// encode turns a value into its stored text form. Strings pass through
// untouched; everything else is JSON.
func encode(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decode attempts structured deserialization, falling back to the raw
// string when the stored text is not valid JSON.
func decode(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// MemoryStore is the in-process KV used by tests and as the default
// when no Redis address is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	logger *slog.Logger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string), logger: slog.Default()}
}

func (m *MemoryStore) Save(ctx context.Context, key string, value any) {
	raw, err := encode(value)
	if err != nil {
		m.logger.Warn("kv encode failed", "key", key, "error", err)
		return
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
}

func (m *MemoryStore) Load(ctx context.Context, key string) (any, bool) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return decode(raw), true
}

func (m *MemoryStore) Remove(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// Helpers for reading typed values out of the loosely typed store.

func LoadBool(ctx context.Context, kv KV, key string) bool {
	v, ok := kv.Load(ctx, key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func LoadFloat(ctx context.Context, kv KV, key string) float64 {
	v, ok := kv.Load(ctx, key)
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func LoadInt(ctx context.Context, kv KV, key string) int {
	return int(LoadFloat(ctx, kv, key))
}

func LoadString(ctx context.Context, kv KV, key, def string) string {
	v, ok := kv.Load(ctx, key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}
