package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/duty"
	"github.com/example/driver-agent/internal/earnings"
	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/location"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/retry"
	"github.com/example/driver-agent/internal/rides"
	"github.com/example/driver-agent/internal/session"
)

// ProfileFetcher fetches the driver profile, used by the toggle
// endpoint for the recharge check.
type ProfileFetcher interface {
	UserDetails(ctx context.Context, token string) (models.DriverProfile, error)
}

// FixIntake receives raw device fixes pushed through the control API.
type FixIntake interface {
	Push(sample models.LocationSample) error
}

// RechargePayments is the hold/capture/cancel slice of the payment
// processor used by the recharge purchase flow.
type RechargePayments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Server is the agent's local control surface: the UI layer drives the
// agent through it instead of reaching into the services directly.
type Server struct {
	Duty     *duty.Manager
	Session  *session.Manager
	Reporter *location.Reporter
	Poller   *rides.Poller
	Earnings *earnings.Service
	Profiles ProfileFetcher
	Fixes    FixIntake
	Payments RechargePayments
	Bus      *events.Bus

	ProfileRetries int

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger) *Server {
	s := &Server{logger: logger, mux: mux.NewRouter(), ProfileRetries: 3}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.mux.HandleFunc("/duty/toggle", s.handleToggle).Methods("POST")
	s.mux.HandleFunc("/duty/refresh", s.handleRefresh).Methods("POST")
	s.mux.HandleFunc("/offers", s.handleOffers).Methods("GET")
	s.mux.HandleFunc("/earnings", s.handleEarnings).Methods("GET")
	s.mux.HandleFunc("/location/fix", s.handleLocationFix).Methods("POST")
	s.mux.HandleFunc("/location/force", s.handleForceLocation).Methods("POST")
	s.mux.HandleFunc("/appstate", s.handleAppState).Methods("POST")
	s.mux.HandleFunc("/recharge", s.handleRechargeHold).Methods("POST")
	s.mux.HandleFunc("/recharge/{intent_id}/capture", s.handleRechargeCapture).Methods("POST")
	s.mux.HandleFunc("/recharge/{intent_id}/cancel", s.handleRechargeCancel).Methods("POST")
	s.mux.HandleFunc("/session/otp", s.handleRequestOTP).Methods("POST")
	s.mux.HandleFunc("/session/verify", s.handleVerifyOTP).Methods("POST")
	s.mux.HandleFunc("/session/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type statusResponse struct {
	Duty           models.DutyStatus      `json:"duty"`
	Authenticated  bool                   `json:"authenticated"`
	AccountStatus  string                 `json:"account_status,omitempty"`
	ReporterActive bool                   `json:"reporter_active"`
	Location       *models.LocationSample `json:"location,omitempty"`
	ActiveOffers   int                    `json:"active_offers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.Session.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		Duty:           s.Duty.Current(),
		Authenticated:  sess.Authenticated,
		AccountStatus:  sess.AccountStatus,
		ReporterActive: s.Reporter.Active(),
		Location:       s.Reporter.Current(),
		ActiveOffers:   len(s.Poller.Offers()),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := s.fetchProfile(ctx)
	if err != nil {
		// toggle proceeds without a profile; the recharge check
		// needs one, refusals then stay server-side.
		s.logger.Warn("profile fetch failed before toggle", "error", err)
	}

	st, err := s.Duty.Toggle(ctx, profile)
	if err != nil {
		writeError(w, err)
		return
	}

	if st.IsOnline {
		s.Reporter.Start()
	} else {
		s.Reporter.Stop()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	st, err := s.Duty.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"offers": s.Poller.Offers()})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	ridesList, summary, err := s.Earnings.Fetch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "rides": ridesList})
}

// handleLocationFix accepts a raw fix from the device layer. The
// reporter decides separately whether it is worth sending.
func (s *Server) handleLocationFix(w http.ResponseWriter, r *http.Request) {
	if s.Fixes == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "no fix intake configured"})
		return
	}
	var sample models.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if err := s.Fixes.Push(sample); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleForceLocation(w http.ResponseWriter, r *http.Request) {
	if err := s.Reporter.ForceUpdate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *Server) handleAppState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State models.AppState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	switch body.State {
	case models.AppStateActive, models.AppStateBackground, models.AppStateInactive:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown app state"})
		return
	}
	s.Reporter.HandleAppState(body.State)
	writeJSON(w, http.StatusOK, map[string]any{"state": body.State})
}

// handleRechargeHold places a hold for the recharge amount. The backend
// captures or cancels it once activation settles.
func (s *Server) handleRechargeHold(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "payments not configured"})
		return
	}
	var body struct {
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		CustomerID string `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if body.Currency == "" {
		body.Currency = "inr"
	}
	id, err := s.Payments.Hold(r.Context(), body.Amount, body.Currency, body.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent_id": id})
}

func (s *Server) handleRechargeCapture(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "payments not configured"})
		return
	}
	if err := s.Payments.Capture(r.Context(), mux.Vars(r)["intent_id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"captured": true})
}

func (s *Server) handleRechargeCancel(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "payments not configured"})
		return
	}
	if err := s.Payments.Cancel(r.Context(), mux.Vars(r)["intent_id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number   string `json:"number"`
		OTPType  string `json:"otpType"`
		FCMToken string `json:"fcmToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if err := s.Session.RequestOTP(r.Context(), body.Number, body.OTPType, body.FCMToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OTP     string `json:"otp"`
		Number  string `json:"number"`
		OTPType string `json:"otpType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	st, err := s.Session.VerifyOTP(r.Context(), body.OTP, body.Number, body.OTPType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":  st.Authenticated,
		"account_status": st.AccountStatus,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.Reporter.Stop()
	s.Session.Logout(ctx)
	s.Duty.Reset(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

// fetchProfile retries the user-details call with a linear backoff, the
// way flaky mobile networks need it.
func (s *Server) fetchProfile(ctx context.Context) (*models.DriverProfile, error) {
	token := s.Session.Token()
	if token == "" {
		return nil, api.ErrAuth
	}
	var profile models.DriverProfile
	policy := retry.Policy{
		MaxAttempts: s.ProfileRetries - 1,
		BaseDelay:   time.Second,
		Backoff:     retry.ScheduleLinear,
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		p, err := s.Profiles.UserDetails(ctx, token)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses while keeping
// only the human-readable message on the wire.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, api.ErrAuth):
		code = http.StatusUnauthorized
	case errors.Is(err, duty.ErrRechargeExpired):
		code = http.StatusPaymentRequired
	case errors.Is(err, location.ErrNotActive), errors.Is(err, location.ErrNoPermission):
		code = http.StatusConflict
	case errors.Is(err, location.ErrLocationTimeout), errors.Is(err, location.ErrInvalidLocation):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
