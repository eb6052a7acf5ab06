package models

import (
	"encoding/json"
	"math"
	"time"
)

// DutyStatus is the driver's operational state plus the counters the
// backend hands back alongside it. Persisted field-by-field under the
// keys in storage.
type DutyStatus struct {
	IsOnline      bool   `json:"is_online"`
	IsAvailable   bool   `json:"is_available"`
	IsOnRide      bool   `json:"is_on_ride"`
	CurrentRideID string `json:"current_ride_id,omitempty"`

	Earnings      float64 `json:"earnings"`
	TotalEarnings float64 `json:"total_earnings"`
	Trips         int     `json:"trips"`
	TotalRides    int     `json:"total_rides"`
	Hours         string  `json:"hours"`
	LoggedInHours string  `json:"logged_in_hours"`
	AverageRating float64 `json:"average_rating"`

	LastStatusChange time.Time `json:"last_status_change,omitempty"`
	LastUpdated      time.Time `json:"last_updated,omitempty"`
	Initialized      bool      `json:"initialized"`
}

// Valid reports whether the cross-field invariants hold:
// on-ride implies a ride id, available implies online.
func (d DutyStatus) Valid() bool {
	if d.IsOnRide && d.CurrentRideID == "" {
		return false
	}
	if d.IsAvailable && !d.IsOnline {
		return false
	}
	return true
}

// LocationSample is one GPS fix. Transient; only the last successfully
// sent copy is retained for change detection.
type LocationSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy"`
	CapturedAt     time.Time `json:"timestamp"`
	Provider       string    `json:"provider"`
}

// Valid rejects NaN coordinates and the (0,0) sentinel some location
// providers emit before a real fix arrives.
func (s LocationSample) Valid() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	if s.Latitude == 0 && s.Longitude == 0 {
		return false
	}
	return s.AccuracyMeters >= 0
}

type OfferStatus string

const (
	OfferPending        OfferStatus = "pending"
	OfferDriverAssigned OfferStatus = "driver_assigned"
	OfferCancelled      OfferStatus = "cancelled"
)

// Terminal reports whether an offer in this status must leave the
// active set on next observation.
func (s OfferStatus) Terminal() bool {
	return s == OfferDriverAssigned || s == OfferCancelled
}

// RideOffer is a ride candidate surfaced by the backend poll. Payload
// keeps the server's raw document so callers can render fields this
// agent does not interpret.
type RideOffer struct {
	RideID  string                 `json:"_id"`
	Status  OfferStatus            `json:"ride_status"`
	Payload map[string]interface{} `json:"-"`
}

// UnmarshalJSON keeps the full server document in Payload alongside the
// two fields the agent interprets.
func (o *RideOffer) UnmarshalJSON(b []byte) error {
	type plain struct {
		RideID string      `json:"_id"`
		Status OfferStatus `json:"ride_status"`
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(b, &raw)
	o.RideID = p.RideID
	o.Status = p.Status
	o.Payload = raw
	return nil
}

// RechargeInfo is the paid subscription window required to go online.
type RechargeInfo struct {
	ExpireAt time.Time `json:"expireData"`
	Amount   float64   `json:"amount"`
	Active   bool      `json:"isActive"`
}

// Expired reports whether the recharge window ended strictly before now.
func (r RechargeInfo) Expired(now time.Time) bool {
	return !r.ExpireAt.IsZero() && r.ExpireAt.Before(now)
}

// DriverProfile is the user-details snapshot.
type DriverProfile struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Phone       string        `json:"phone"`
	IsAvailable bool          `json:"isAvailable"`
	Status      string        `json:"status"`
	Recharge    *RechargeInfo `json:"RechargeData,omitempty"`
}

// RidePricing mirrors the nested pricing block on historical rides.
type RidePricing struct {
	TotalFare float64 `json:"total_fare"`
}

// RideRecord is one historical ride from the earnings feed.
type RideRecord struct {
	ID          string       `json:"_id"`
	Status      string       `json:"ride_status"`
	Fare        float64      `json:"fare"`
	Pricing     *RidePricing `json:"pricing,omitempty"`
	PickupAddr  string       `json:"pickup_address"`
	DropoffAddr string       `json:"drop_address"`
	RequestedAt time.Time    `json:"requested_at"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Total returns the charged amount, preferring the itemized pricing
// block over the flat fare field.
func (r RideRecord) Total() float64 {
	if r.Pricing != nil && r.Pricing.TotalFare > 0 {
		return r.Pricing.TotalFare
	}
	return r.Fare
}

// ServerSnapshot is the authoritative getMyAllDetails payload.
type ServerSnapshot struct {
	OnRideID      string     `json:"on_ride_id"`
	IsAvailable   bool       `json:"isAvailable"`
	CurrentRide   *RideOffer `json:"currentRide"`
	TotalRides    int        `json:"totalRides"`
	TotalEarnings float64    `json:"totalEarnings"`
	AverageRating float64    `json:"averageRating"`
	TotalHours    string     `json:"totalHours"`
	TodayEarnings float64    `json:"todayEarnings"`
	TodayTrips    int        `json:"todayTrips"`
	TodayHours    string     `json:"todayHours"`
}

// AppState mirrors the host application's lifecycle state; it rides
// along on every location payload.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)
