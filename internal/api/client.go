package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// ErrAuth means the operation was aborted locally because no token was
// available; no network call is made in that case.
var ErrAuth = errors.New("no authentication token available")

// StatusError is a non-2xx response, carrying whatever message the
// backend supplied.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http %d", e.Code)
}

// Client talks to the fleet backend. All calls are JSON over HTTPS with
// bearer auth where the endpoint requires it.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// envelope is the backend's common response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		var env envelope
		if json.Unmarshal(raw, &env) == nil {
			msg = env.Message
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// RequestOTP asks the backend to send a login code to the driver's
// phone. The FCM token rides along when notification permission was
// granted so the backend can push as well as text.
func (c *Client) RequestOTP(ctx context.Context, number, otpType, fcmToken string) error {
	body := map[string]any{"number": number, "otpType": otpType}
	if fcmToken != "" {
		body["fcmToken"] = fcmToken
	}
	return c.do(ctx, http.MethodPost, "/rider/rider-login", "", body, nil)
}

// VerifyResult is the token plus account flags returned on a good OTP.
type VerifyResult struct {
	Token          string `json:"token"`
	AccountStatus  string `json:"accountStatus"`
	DocumentUpload bool   `json:"isDocumentUpload"`
	DocumentVerify bool   `json:"DocumentVerify"`
}

func (c *Client) VerifyOTP(ctx context.Context, otp, number, otpType string) (VerifyResult, error) {
	var res VerifyResult
	body := map[string]any{"otp": otp, "number": number, "otpType": otpType}
	if err := c.do(ctx, http.MethodPost, "/rider/rider-verify", "", body, &res); err != nil {
		return VerifyResult{}, err
	}
	if res.Token == "" {
		return VerifyResult{}, &StatusError{Code: http.StatusUnauthorized, Message: "no token in verify response"}
	}
	return res, nil
}

// UserDetails fetches the driver profile snapshot.
func (c *Client) UserDetails(ctx context.Context, token string) (models.DriverProfile, error) {
	if token == "" {
		return models.DriverProfile{}, ErrAuth
	}
	var out struct {
		Partner *models.DriverProfile `json:"partner"`
	}
	if err := c.do(ctx, http.MethodGet, "/rider/user-details", token, nil, &out); err != nil {
		return models.DriverProfile{}, err
	}
	if out.Partner == nil {
		return models.DriverProfile{}, fmt.Errorf("user-details: no partner data in response")
	}
	return *out.Partner, nil
}

// AllDetails fetches the full driver + ride + earnings snapshot.
func (c *Client) AllDetails(ctx context.Context, token string) (models.ServerSnapshot, error) {
	if token == "" {
		return models.ServerSnapshot{}, ErrAuth
	}
	var snap models.ServerSnapshot
	if err := c.do(ctx, http.MethodGet, "/rider/getMyAllDetails", token, nil, &snap); err != nil {
		return models.ServerSnapshot{}, err
	}
	return snap, nil
}

// ToggleWorkStatus flips the driver online/offline server-side and
// returns the status the backend settled on.
func (c *Client) ToggleWorkStatus(ctx context.Context, token string, online bool) (bool, error) {
	if token == "" {
		return false, ErrAuth
	}
	var out struct {
		Success  bool   `json:"success"`
		Message  string `json:"message"`
		CabRider *struct {
			Status string `json:"status"`
		} `json:"cabRider"`
	}
	if err := c.do(ctx, http.MethodPost, "/rider/toggleWorkStatusOfRider", token, map[string]any{"status": online}, &out); err != nil {
		return false, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "failed to toggle status"
		}
		return false, &StatusError{Code: http.StatusOK, Message: msg}
	}
	if out.CabRider != nil {
		return out.CabRider.Status == "online", nil
	}
	return online, nil
}

// LocationPayload is the wire form of one reported fix.
type LocationPayload struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Accuracy  float64         `json:"accuracy"`
	Timestamp int64           `json:"timestamp"`
	AppState  models.AppState `json:"app_state"`
	Provider  string          `json:"provider"`
}

// SendLocation reports one fix. Only a 2xx is a success.
func (c *Client) SendLocation(ctx context.Context, token string, p LocationPayload) error {
	if token == "" {
		return ErrAuth
	}
	return c.do(ctx, http.MethodPost, "/webhook/cab-receive-location", token, p, nil)
}

// PendingOffers lists ride offers currently targeted at the driver.
// The server's list is returned verbatim; nil data means no offers.
func (c *Client) PendingOffers(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	var out struct {
		Data []models.RideOffer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/new/pooling-rides-for-rider/"+driverID, "", nil, &out); err != nil {
		return nil, fmt.Errorf("poll offers for %s: %w", driverID, err)
	}
	return out.Data, nil
}

// OfferStatus refreshes a single offer.
func (c *Client) OfferStatus(ctx context.Context, rideID string) (models.RideOffer, error) {
	var out struct {
		Data models.RideOffer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/new/status-driver/"+rideID, "", nil, &out); err != nil {
		return models.RideOffer{}, fmt.Errorf("offer status %s: %w", rideID, err)
	}
	return out.Data, nil
}

// AllRides fetches the ride history that feeds the earnings view.
func (c *Client) AllRides(ctx context.Context, token string) ([]models.RideRecord, error) {
	if token == "" {
		return nil, ErrAuth
	}
	var out struct {
		Data []models.RideRecord `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/rider/getMyAllRides", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
