package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"parkd/internal/config"
	"parkd/internal/db"
	"parkd/internal/geocode"
	"parkd/internal/logging"
	"parkd/internal/mq"
	"parkd/internal/repository"
	"parkd/internal/service"
	"parkd/internal/utils"
)

// runtime holds what every subcommand needs: configuration, a logger and the
// store, plus whatever the command attached later and must release on exit.
type runtime struct {
	cfg     config.App
	logger  *zap.Logger
	store   service.Store
	conn    *sql.DB
	closers []func() error
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.UseMemoryStore() {
		logger.Warn("using in-memory store, data is lost on exit")
		rt.store = repository.NewMemoryStore()
		return rt, nil
	}
	conn, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.conn = conn
	rt.closers = append(rt.closers, conn.Close)
	rt.store = repository.NewPostgresStore(conn)
	return rt, nil
}

// migrate applies the schema when backed by Postgres.
func (rt *runtime) migrate(ctx context.Context) error {
	if rt.conn == nil {
		return nil
	}
	if err := db.Migrate(ctx, rt.conn); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

// core is the reservation engine wired to its collaborators.
type core struct {
	registry     *prometheus.Registry
	metrics      *service.Metrics
	civil        *utils.CivilClock
	prober       *service.AvailabilityProber
	broadcaster  *service.Broadcaster
	notifier     service.Notifier
	reservations *service.ReservationService
	sites        *service.SiteService
	jobs         *service.JobService
}

func (rt *runtime) buildCore() (*core, error) {
	cfg := rt.cfg
	c := &core{registry: prometheus.NewRegistry()}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = service.NewMetrics(c.registry)
	c.civil = utils.NewCivilClock(cfg.DisplayTZ)
	clock := service.SystemClock{}
	c.prober = service.NewAvailabilityProber(rt.store, c.civil, cfg.ProbeStep, cfg.ProbeSteps)

	var transport service.Transport
	if cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.AvailabilityExchange)
		if err != nil {
			return nil, fmt.Errorf("connecting broadcast transport: %w", err)
		}
		rt.closers = append(rt.closers, pub.Close)
		transport = pub
		rt.logger.Info("availability updates mirrored to exchange", zap.String("exchange", cfg.AvailabilityExchange))
	}
	c.broadcaster = service.NewBroadcaster(transport, c.metrics, rt.logger.Named("broadcast"))
	rt.closers = append(rt.closers, func() error {
		c.broadcaster.Close()
		return nil
	})

	notifier, err := rt.buildNotifier(c.civil)
	if err != nil {
		return nil, err
	}
	c.notifier = notifier

	var geocoder service.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		geocoder = geocode.NewGoogleClient(cfg.GoogleMapsAPIKey)
	}

	c.reservations = service.NewReservationService(service.ReservationServiceDeps{
		Store:       rt.store,
		Clock:       clock,
		Civil:       c.civil,
		Prober:      c.prober,
		Broadcaster: c.broadcaster,
		Notifier:    c.notifier,
		Metrics:     c.metrics,
		Logger:      rt.logger.Named("reservations"),
		GraceWindow: cfg.GraceWindow,
	})
	c.sites = service.NewSiteService(rt.store, clock, c.civil, c.prober, geocoder, rt.logger.Named("sites"))
	c.jobs = service.NewJobService(rt.store, c.reservations, clock, c.metrics, rt.logger.Named("sweeper"), cfg.SweepInterval)
	return c, nil
}

func (rt *runtime) buildNotifier(civil *utils.CivilClock) (service.Notifier, error) {
	cfg := rt.cfg
	if !cfg.NotificationsEnabled() {
		return service.NopNotifier{}, nil
	}
	var (
		email service.EmailSender
		sms   service.SMSSender
	)
	if cfg.SendGridAPIKey != "" {
		s, err := service.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
		if err != nil {
			return nil, fmt.Errorf("configuring email: %w", err)
		}
		email = s
	}
	if cfg.TwilioAccountSID != "" {
		s, err := service.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		if err != nil {
			return nil, fmt.Errorf("configuring sms: %w", err)
		}
		sms = s
	}
	n := service.NewNotifyService(rt.store, email, sms, civil, cfg.GraceWindow, rt.logger.Named("notify"))
	// Runs before the store closes so in-flight sends can still read it.
	rt.closers = append(rt.closers, func() error {
		n.Wait()
		return nil
	})
	return n, nil
}
