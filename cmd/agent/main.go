package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/duty"
	"github.com/example/driver-agent/internal/earnings"
	"github.com/example/driver-agent/internal/events"
	"github.com/example/driver-agent/internal/httpapi"
	"github.com/example/driver-agent/internal/location"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/payments"
	"github.com/example/driver-agent/internal/rides"
	"github.com/example/driver-agent/internal/session"
	"github.com/example/driver-agent/internal/storage"
	"github.com/example/driver-agent/internal/telemetry"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// state store: redis when configured, in-memory otherwise
	var kv storage.KV = storage.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, logging.ForComponent(logger, "redis"))
		if err := rs.Ping(ctx); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		kv = rs
	}

	var archive storage.RideArchive
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout)
	bus := events.NewBus()

	sess := session.NewManager(client, kv, logging.ForComponent(logger, "session"))
	dm := duty.NewManager(client, sess, kv, bus, logging.ForComponent(logger, "duty"))

	fixes := location.NewPushSource(2 * cfg.LocationInterval)
	rep := location.NewReporter(location.Config{
		Interval:          cfg.LocationInterval,
		AcquireTimeout:    cfg.LocationTimeout,
		MinDistanceMeters: cfg.MinDistanceMeters,
		MinSendInterval:   cfg.MinSendInterval,
		MaxRetries:        cfg.SendMaxRetries,
		RetryBaseDelay:    cfg.SendRetryBaseDelay,
	}, fixes, client, bus, logging.ForComponent(logger, "location"))
	if len(cfg.KafkaBrokers) > 0 {
		kp := telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.DriverID)
		defer kp.Close()
		rep.SetTelemetry(kp)
	}
	sess.TokenChanged = rep.SetToken

	// the fix intake on the control API is the permission boundary here;
	// no fixes pushed means no sends
	rep.SetPermission(true)
	defer rep.Stop()

	poller := rides.NewPoller(client, dm, nil, bus, cfg.OfferPollInterval, logging.ForComponent(logger, "rides"))
	earn := earnings.NewService(client, sess, archive, logging.ForComponent(logger, "earnings"))

	// resume where the last run left off
	st := sess.Restore(ctx)
	dm.Restore(ctx)
	logger.Info("agent state restored", "authenticated", st.Authenticated, "online", dm.Current().IsOnline)

	go poller.Run(ctx, cfg.DriverID)

	srv := httpapi.NewServer(logging.ForComponent(logger, "http"))
	srv.Duty = dm
	srv.Session = sess
	srv.Reporter = rep
	srv.Poller = poller
	srv.Earnings = earn
	srv.Profiles = client
	srv.Fixes = fixes
	if os.Getenv("STRIPE_API_KEY") != "" {
		srv.Payments = payments.NewRechargeClient()
	}
	srv.Bus = bus
	srv.ProfileRetries = cfg.ProfileFetchRetries

	httpSrv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("control api listening", "addr", cfg.ControlAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control api stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}
}
