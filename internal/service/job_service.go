package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 60 * time.Second

// JobService runs the expiry sweep: pending reservations that were not started
// within the grace window after their scheduled start are cancelled.
type JobService struct {
	store        Store
	reservations *ReservationService
	clock        Clock
	metrics      *Metrics
	logger       *zap.Logger
	interval     time.Duration

	cron *cron.Cron
}

func NewJobService(store Store, reservations *ReservationService, clock Clock, metrics *Metrics, logger *zap.Logger, interval time.Duration) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &JobService{
		store:        store,
		reservations: reservations,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
	}
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Found     int
	Cancelled int
	Failed    int
}

// CancelExpiredReservations runs one sweep. A failure on one reservation is
// logged and the sweep moves on; only a failure to list candidates is returned.
func (s *JobService) CancelExpiredReservations(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock.Now().Add(-s.reservations.GraceWindow())

	expired, err := s.store.ListExpiredPending(ctx, cutoff)
	if err != nil {
		s.metrics.sweep(0, 0)
		return SweepResult{}, fmt.Errorf("cron job: failed to list expired pending reservations: %w", err)
	}

	result := SweepResult{Found: len(expired)}
	for i := range expired {
		res := &expired[i]
		if err := s.reservations.Expire(ctx, res); err != nil {
			result.Failed++
			s.logger.Error("failed to expire reservation",
				zap.String("reservation_id", res.ID),
				zap.String("site_id", res.SiteID),
				zap.String("vehicle_type", string(res.VehicleType)),
				zap.Error(err))
			continue
		}
		result.Cancelled++
	}

	s.metrics.sweep(result.Cancelled, result.Failed)
	if result.Found > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int("found", result.Found),
			zap.Int("cancelled", result.Cancelled),
			zap.Int("failed", result.Failed))
	} else {
		s.logger.Debug("expiry sweep found nothing to cancel")
	}
	return result, nil
}

// Start schedules the sweep every interval. Overlapping runs are skipped.
func (s *JobService) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	logger := cronLogger{s.logger.Named("cron")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if _, err := s.CancelExpiredReservations(ctx); err != nil {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *JobService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
