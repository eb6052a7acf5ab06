package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/storage"
)

// ErrValidation covers malformed input caught before any network call.
var ErrValidation = errors.New("validation failed")

// State is a read-only snapshot of the authenticated session.
type State struct {
	Token          string
	AccountStatus  string
	DocumentUpload bool
	DocumentVerify bool
	Authenticated  bool
}

// Backend is the subset of the API client the session flow needs.
type Backend interface {
	RequestOTP(ctx context.Context, number, otpType, fcmToken string) error
	VerifyOTP(ctx context.Context, otp, number, otpType string) (api.VerifyResult, error)
}

// Manager owns the auth token and account flags, persisting them
// through the KV gateway so a restart resumes the session.
type Manager struct {
	backend Backend
	kv      storage.KV
	logger  *slog.Logger

	mu    sync.RWMutex
	state State

	// TokenChanged, when set, is invoked outside the lock after the
	// token changes. The location reporter hooks this to auto-start.
	TokenChanged func(token string)
}

func NewManager(backend Backend, kv storage.KV, logger *slog.Logger) *Manager {
	return &Manager{backend: backend, kv: kv, logger: logger}
}

// Restore loads the persisted session. Absent keys leave the zero
// state; it never fails.
func (m *Manager) Restore(ctx context.Context) State {
	st := State{
		Token:          storage.LoadString(ctx, m.kv, storage.KeyAuthToken, ""),
		AccountStatus:  storage.LoadString(ctx, m.kv, storage.KeyAccountStatus, ""),
		DocumentUpload: storage.LoadBool(ctx, m.kv, storage.KeyDocumentUpload),
		DocumentVerify: storage.LoadBool(ctx, m.kv, storage.KeyDocumentVerify),
		Authenticated:  storage.LoadBool(ctx, m.kv, storage.KeyAuthenticated),
	}
	if st.Token == "" {
		st.Authenticated = false
	}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	if st.Token != "" && m.TokenChanged != nil {
		m.TokenChanged(st.Token)
	}
	return st
}

// RequestOTP validates the phone number locally, then asks the backend
// to send a code.
func (m *Manager) RequestOTP(ctx context.Context, number, otpType, fcmToken string) error {
	if !validPhone(number) {
		return fmt.Errorf("%w: phone number must be 10 digits", ErrValidation)
	}
	if err := m.backend.RequestOTP(ctx, number, otpType, fcmToken); err != nil {
		return fmt.Errorf("request otp: %w", err)
	}
	return nil
}

// VerifyOTP exchanges the code for a token and persists the session.
func (m *Manager) VerifyOTP(ctx context.Context, otp, number, otpType string) (State, error) {
	if !validOTP(otp) {
		return State{}, fmt.Errorf("%w: otp must be 4 to 6 digits", ErrValidation)
	}
	if !validPhone(number) {
		return State{}, fmt.Errorf("%w: phone number must be 10 digits", ErrValidation)
	}
	res, err := m.backend.VerifyOTP(ctx, otp, number, otpType)
	if err != nil {
		return State{}, fmt.Errorf("verify otp: %w", err)
	}

	st := State{
		Token:          res.Token,
		AccountStatus:  res.AccountStatus,
		DocumentUpload: res.DocumentUpload,
		DocumentVerify: res.DocumentVerify,
		Authenticated:  true,
	}
	m.kv.Save(ctx, storage.KeyAuthToken, st.Token)
	m.kv.Save(ctx, storage.KeyAccountStatus, st.AccountStatus)
	m.kv.Save(ctx, storage.KeyDocumentUpload, st.DocumentUpload)
	m.kv.Save(ctx, storage.KeyDocumentVerify, st.DocumentVerify)
	m.kv.Save(ctx, storage.KeyAuthenticated, true)

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	if m.TokenChanged != nil {
		m.TokenChanged(st.Token)
	}
	m.logger.Info("session established", "account_status", st.AccountStatus)
	return st, nil
}

// Logout clears the in-memory session and removes every persisted key.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()

	for _, key := range []string{
		storage.KeyAuthToken,
		storage.KeyAccountStatus,
		storage.KeyDocumentUpload,
		storage.KeyDocumentVerify,
		storage.KeyAuthenticated,
	} {
		m.kv.Remove(ctx, key)
	}
	if m.TokenChanged != nil {
		m.TokenChanged("")
	}
	m.logger.Info("session cleared")
}

// Current returns a snapshot of the session.
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Token returns the current auth token, empty when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Token
}

func validPhone(number string) bool {
	if len(number) != 10 {
		return false
	}
	return allDigits(number)
}

func validOTP(otp string) bool {
	if len(otp) < 4 || len(otp) > 6 {
		return false
	}
	return allDigits(otp)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
