package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/storage"
)

type fakeBackend struct {
	otpCalls    int
	verifyCalls int
	verifyErr   error
	result      api.VerifyResult
}

func (f *fakeBackend) RequestOTP(ctx context.Context, number, otpType, fcmToken string) error {
	f.otpCalls++
	return nil
}

func (f *fakeBackend) VerifyOTP(ctx context.Context, otp, number, otpType string) (api.VerifyResult, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return api.VerifyResult{}, f.verifyErr
	}
	return f.result, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestOTPRejectsBadPhoneWithoutNetwork(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, storage.NewMemoryStore(), discard())

	for _, number := range []string{"12345", "98765432101", "98765abc21", ""} {
		err := m.RequestOTP(context.Background(), number, "text", "")
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("number %q: expected ErrValidation, got %v", number, err)
		}
	}
	if b.otpCalls != 0 {
		t.Fatalf("expected no network calls on bad input, got %d", b.otpCalls)
	}
}

func TestVerifyOTPPersistsSession(t *testing.T) {
	b := &fakeBackend{result: api.VerifyResult{Token: "tok-1", AccountStatus: "active", DocumentUpload: true}}
	kv := storage.NewMemoryStore()
	m := NewManager(b, kv, discard())

	var notified string
	m.TokenChanged = func(token string) { notified = token }

	st, err := m.VerifyOTP(context.Background(), "1234", "9876543210", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Authenticated || st.Token != "tok-1" {
		t.Fatalf("unexpected state %+v", st)
	}
	if notified != "tok-1" {
		t.Fatal("expected TokenChanged hook to fire")
	}
	ctx := context.Background()
	if got := storage.LoadString(ctx, kv, storage.KeyAuthToken, ""); got != "tok-1" {
		t.Fatalf("token not persisted, got %q", got)
	}
	if !storage.LoadBool(ctx, kv, storage.KeyAuthenticated) {
		t.Fatal("isAuthenticated not persisted")
	}
}

func TestVerifyOTPRejectsBadCode(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, storage.NewMemoryStore(), discard())

	_, err := m.VerifyOTP(context.Background(), "12", "9876543210", "text")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if b.verifyCalls != 0 {
		t.Fatal("short OTP must not reach the backend")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	b := &fakeBackend{result: api.VerifyResult{Token: "tok-1"}}
	kv := storage.NewMemoryStore()
	m := NewManager(b, kv, discard())
	if _, err := m.VerifyOTP(context.Background(), "1234", "9876543210", "text"); err != nil {
		t.Fatal(err)
	}

	m.Logout(context.Background())

	if m.Token() != "" {
		t.Fatal("expected empty token after logout")
	}
	if _, ok := kv.Load(context.Background(), storage.KeyAuthToken); ok {
		t.Fatal("expected persisted token removed")
	}
}

func TestRestoreResumesSession(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()
	kv.Save(ctx, storage.KeyAuthToken, "tok-2")
	kv.Save(ctx, storage.KeyAuthenticated, true)
	kv.Save(ctx, storage.KeyAccountStatus, "active")

	m := NewManager(&fakeBackend{}, kv, discard())
	st := m.Restore(ctx)
	if st.Token != "tok-2" || !st.Authenticated || st.AccountStatus != "active" {
		t.Fatalf("unexpected restored state %+v", st)
	}
}
