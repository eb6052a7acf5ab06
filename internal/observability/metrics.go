package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationsSent    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "locations_sent_total", Help: "Location fixes accepted by the backend"})
	LocationsSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "locations_skipped_total", Help: "Fixes below the movement thresholds"})
	LocationsFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "locations_failed_total", Help: "Fixes dropped after retry exhaustion"})
	LocationRetries  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "location_send_retries_total", Help: "Individual send retries"})

	OffersSeen    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "offers_seen_total", Help: "Ride offers returned by the poll feed"})
	OffersRemoved = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "offers_removed_total", Help: "Offers dropped on reaching a terminal status"})
	PollErrors    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_agent", Name: "poll_errors_total", Help: "Failed offer poll ticks"})
	ActiveOffers  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_agent", Name: "active_offers", Help: "Offers currently held in the active set"})

	DutyOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_agent", Name: "duty_online", Help: "1 while the driver is online"})
	DutyToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "duty_toggles_total", Help: "Duty toggle outcomes"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_agent", Name: "http_requests_total", Help: "Control API requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driver_agent",
			Name:      "http_request_duration_seconds",
			Help:      "Control API latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
