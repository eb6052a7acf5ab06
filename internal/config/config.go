package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the driver agent
// process. Values are primarily loaded from environment variables with
// sane defaults so the binary can run locally without excessive setup.
type AgentConfig struct {
	APIBaseURL      string
	APITimeout      time.Duration
	ControlAddr     string
	ShutdownTimeout time.Duration

	DriverID string

	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LocationInterval    time.Duration
	LocationTimeout     time.Duration
	MinDistanceMeters   float64
	MinSendInterval     time.Duration
	SendMaxRetries      int
	SendRetryBaseDelay  time.Duration
	OfferPollInterval   time.Duration
	ProfileFetchRetries int

	LogLevel string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		APIBaseURL:      "https://appv2.example.com/api/v1",
		APITimeout:      10 * time.Second,
		ControlAddr:     ":8090",
		ShutdownTimeout: 15 * time.Second,
		RedisPrefix:     "driver_agent",
		KafkaTopic:      "driver-locations",

		LocationInterval:    4 * time.Second,
		LocationTimeout:     10 * time.Second,
		MinDistanceMeters:   10,
		MinSendInterval:     30 * time.Second,
		SendMaxRetries:      3,
		SendRetryBaseDelay:  2 * time.Second,
		OfferPollInterval:   time.Second,
		ProfileFetchRetries: 3,

		LogLevel: "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)
	setStringFromEnv(&cfg.ControlAddr, "CONTROL_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_INTERVAL", &errs)
	setDurationFromEnv(&cfg.LocationTimeout, "LOCATION_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.MinDistanceMeters, "MIN_DISTANCE_METERS", &errs)
	setDurationFromEnv(&cfg.MinSendInterval, "MIN_SEND_INTERVAL", &errs)
	setIntFromEnv(&cfg.SendMaxRetries, "SEND_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.SendRetryBaseDelay, "SEND_RETRY_BASE_DELAY", &errs)
	setDurationFromEnv(&cfg.OfferPollInterval, "OFFER_POLL_INTERVAL", &errs)
	setIntFromEnv(&cfg.ProfileFetchRetries, "PROFILE_FETCH_RETRIES", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.LocationInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_INTERVAL must be > 0"))
	}
	if cfg.OfferPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_POLL_INTERVAL must be > 0"))
	}
	if cfg.SendMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SEND_MAX_RETRIES must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
