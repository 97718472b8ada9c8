package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"parkd/internal/db"
	"parkd/internal/entities"
	apperr "parkd/internal/errors"
	"parkd/internal/repository"
	"parkd/internal/utils"
)

// DefaultGraceWindow is how early a reservation may be started and how late it
// may remain pending before the sweeper cancels it.
const DefaultGraceWindow = 15 * time.Minute

const maxEndWarningFormat = "Your parking is only available until %s due to an upcoming reservation."

type ReservationServiceDeps struct {
	Store       Store
	Clock       Clock
	Civil       *utils.CivilClock
	Prober      *AvailabilityProber
	Broadcaster *Broadcaster
	Notifier    Notifier
	Metrics     *Metrics
	Logger      *zap.Logger
	GraceWindow time.Duration
}

// ReservationService owns the reservation state machine. Every mutation of a
// (site, vehicle type) pool runs under that pool's lock, from the admission
// read through the broadcast of the resulting snapshot.
type ReservationService struct {
	store    Store
	ledger   *CapacityLedger
	prober   *AvailabilityProber
	bcast    *Broadcaster
	locks    *KeyLock
	clock    Clock
	civil    *utils.CivilClock
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	grace    time.Duration
}

func NewReservationService(d ReservationServiceDeps) *ReservationService {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Civil == nil {
		d.Civil = utils.NewCivilClock("")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Prober == nil {
		d.Prober = NewAvailabilityProber(d.Store, d.Civil, 0, 0)
	}
	if d.Broadcaster == nil {
		d.Broadcaster = NewBroadcaster(nil, d.Metrics, d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.GraceWindow <= 0 {
		d.GraceWindow = DefaultGraceWindow
	}
	return &ReservationService{
		store:    d.Store,
		ledger:   NewCapacityLedger(d.Store, d.Clock),
		prober:   d.Prober,
		bcast:    d.Broadcaster,
		locks:    NewKeyLock(),
		clock:    d.Clock,
		civil:    d.Civil,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		tracer:   otel.Tracer("parkd/service"),
		grace:    d.GraceWindow,
	}
}

func (s *ReservationService) Ledger() *CapacityLedger {
	return s.ledger
}

func (s *ReservationService) GraceWindow() time.Duration {
	return s.grace
}

// Create admits and persists a new reservation for userID.
func (s *ReservationService) Create(ctx context.Context, userID string, req entities.ReservationRequest) (resp *entities.ReservationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.create", trace.WithAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("vehicle_type", req.VehicleType),
		attribute.Bool("immediate", req.ReserveNow),
	))
	defer func() { s.finish(span, err) }()

	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if req.SiteID == "" {
		return nil, apperr.Validation("parking_lot_id is required")
	}
	vt, err := utils.ParseVehicleType(req.VehicleType)
	if err != nil {
		return nil, apperr.Validation("%v", err).WithDetail("vehicle_type", req.VehicleType)
	}

	now := s.clock.Now()
	start := now
	if !req.ReserveNow && req.StartTime != "" {
		start, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return nil, apperr.Validation("start_time must be an RFC 3339 timestamp").WithDetail("start_time", req.StartTime)
		}
		start = start.UTC()
		if start.Before(now.Add(-s.grace)) {
			return nil, apperr.Validation("start_time is too far in the past").
				WithDetail("start_time", start).
				WithDetail("current_time", s.civil.Format(now))
		}
	}

	site, err := loadSite(ctx, s.store, req.SiteID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(site.ID, vt)
	defer unlock()

	existing, err := s.store.FindOutstandingByUser(ctx, userID)
	switch {
	case err == nil:
		return nil, apperr.Conflict("You already have an active reservation").
			WithDetail("reservation_id", existing.ID).
			WithDetail("status", string(existing.Status))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Dependency(err, "could not check outstanding reservations")
	}

	snap, err := s.ledger.Occupancy(ctx, site, vt, start)
	if err != nil {
		return nil, err
	}
	// Pendings only count from their start, so an immediate arrival never
	// competes with future bookings. A pending that is already due keeps its
	// spot until it is started or swept.
	available := snap.AvailableSpots
	if available <= 0 {
		next := s.prober.Suggest(ctx, site, vt, start)
		return nil, apperr.Conflict("No spots available for this vehicle type at the requested time").
			WithDetail("next_available", next.At).
			WithDetail("next_available_formatted", next.Formatted).
			WithDetail("heuristic", next.Heuristic)
	}

	status := db.StatusPending
	if req.ReserveNow {
		status = db.StatusActive
	}

	var maxEnd *time.Time
	if req.ReserveNow && available == 1 {
		upcoming, err := s.store.EarliestPendingAfter(ctx, site.ID, vt, start)
		switch {
		case err == nil:
			t := upcoming.StartTime
			maxEnd = &t
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperr.Dependency(err, "could not look up upcoming reservations")
		}
	}

	res := &db.Reservation{
		ID:            uuid.NewString(),
		UserID:        userID,
		SiteID:        site.ID,
		VehicleType:   vt,
		VehiclePlate:  req.VehiclePlate,
		StartTime:     start,
		MaxEndTime:    maxEnd,
		Status:        status,
		PaymentStatus: db.PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertReservation(ctx, res); err != nil {
		if errors.Is(err, repository.ErrOutstandingExists) {
			return nil, apperr.Conflict("You already have an active reservation")
		}
		return nil, apperr.Dependency(err, "could not save reservation")
	}
	s.metrics.transition(string(status))
	s.logger.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("user_id", userID),
		zap.String("site_id", site.ID),
		zap.String("vehicle_type", string(vt)),
		zap.String("status", string(status)),
		zap.Bool("max_end_assigned", maxEnd != nil))

	if req.ReserveNow || !start.After(now) {
		s.refresh(ctx, site, vt)
	}

	out := s.toResponse(res)
	if maxEnd != nil {
		out.Warning = fmt.Sprintf(maxEndWarningFormat, s.civil.Format(*maxEnd))
	}
	return &out, nil
}

// Start moves a pending reservation to active. It may be started at most one
// grace window before its scheduled start. Billing keeps the scheduled start;
// the arrival is recorded so an early start holds the spot from then on.
func (s *ReservationService) Start(ctx context.Context, id, userID string) (resp *entities.ReservationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.start", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer func() { s.finish(span, err) }()

	res, site, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(res.SiteID, res.VehicleType)
	defer unlock()

	if res, err = s.reload(ctx, res); err != nil {
		return nil, err
	}
	if res.Status != db.StatusPending {
		return nil, invalidState("Reservation is already "+string(res.Status), res)
	}

	now := s.clock.Now()
	earliest := res.StartTime.Add(-s.grace)
	if now.Before(earliest) {
		return nil, apperr.TooEarly("Cannot start reservation before the scheduled time (%d-minute grace period allowed)", int(s.grace.Minutes())).
			WithDetail("scheduled_time", s.civil.Format(res.StartTime)).
			WithDetail("earliest_start", s.civil.Format(earliest)).
			WithDetail("current_time", s.civil.Format(now)).
			WithDetail("scheduled_at", res.StartTime).
			WithDetail("earliest_start_at", earliest)
	}

	res.ArrivedAt = &now
	if err := s.transition(ctx, res, db.StatusActive, now); err != nil {
		return nil, err
	}
	s.refresh(ctx, site, res.VehicleType)

	out := s.toResponse(res)
	return &out, nil
}

// End completes an active reservation and charges for the stay.
func (s *ReservationService) End(ctx context.Context, id, userID string) (resp *entities.EndResult, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.end", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer func() { s.finish(span, err) }()

	res, site, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	rate, ok := site.Rate(res.VehicleType)
	if !ok {
		return nil, apperr.NotFound("No rate configured for %s at this parking lot", res.VehicleType).
			WithDetail("parking_lot_id", site.ID)
	}

	unlock := s.locks.Lock(res.SiteID, res.VehicleType)
	defer unlock()

	if res, err = s.reload(ctx, res); err != nil {
		return nil, err
	}
	if res.Status != db.StatusActive {
		return nil, invalidState("Reservation must be active to end, current status: "+string(res.Status), res)
	}

	end := s.clock.Now()
	if end.Before(res.StartTime) {
		end = res.StartTime
	}
	breakdown := ComputeFee(rate, res.StartTime, end, res.MaxEndTime)
	res.EndTime = &end
	res.Fee = &breakdown.Total

	if err := s.transition(ctx, res, db.StatusCompleted, end); err != nil {
		return nil, err
	}
	s.refresh(ctx, site, res.VehicleType)

	out := &entities.EndResult{
		ReservationResponse: s.toResponse(res),
		DurationHours:       round2(breakdown.DurationHours),
		IsLate:              breakdown.IsLate,
	}
	if breakdown.IsLate {
		lateFee := round2(breakdown.LateFee)
		out.LateFee = &lateFee
		out.Warning = lateWarning
		s.logger.Info("reservation completed late",
			zap.String("reservation_id", res.ID),
			zap.Float64("overtime_hours", breakdown.OvertimeHours),
			zap.Float64("late_fee", lateFee))
		s.notifier.LateCompletion(ctx, res, lateFee)
	}
	return out, nil
}

// Cancel cancels a pending reservation on behalf of its owner.
func (s *ReservationService) Cancel(ctx context.Context, id, userID string) (resp *entities.ReservationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.cancel", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer func() { s.finish(span, err) }()

	res, site, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, res, site); err != nil {
		return nil, err
	}
	out := s.toResponse(res)
	return &out, nil
}

// Expire cancels a pending reservation that was never started. It is the
// system-initiated cancel used by the sweeper and skips ownership checks.
func (s *ReservationService) Expire(ctx context.Context, res *db.Reservation) (err error) {
	ctx, span := s.tracer.Start(ctx, "reservation.expire", trace.WithAttributes(attribute.String("reservation_id", res.ID)))
	defer func() { s.finish(span, err) }()

	site, err := loadSite(ctx, s.store, res.SiteID)
	if err != nil {
		return err
	}
	res = res.Clone()
	if err := s.cancel(ctx, res, site); err != nil {
		return err
	}
	s.notifier.ReservationExpired(ctx, res)
	return nil
}

// cancel moves res to cancelled and leaves the persisted state in *res.
func (s *ReservationService) cancel(ctx context.Context, res *db.Reservation, site *db.Site) error {
	unlock := s.locks.Lock(res.SiteID, res.VehicleType)
	defer unlock()

	fresh, err := s.reload(ctx, res)
	if err != nil {
		return err
	}
	*res = *fresh
	if res.Status != db.StatusPending {
		return invalidState("Only pending reservations can be cancelled, current status: "+string(res.Status), res)
	}

	if err := s.transition(ctx, res, db.StatusCancelled, s.clock.Now()); err != nil {
		return err
	}
	s.refresh(ctx, site, res.VehicleType)
	return nil
}

// Get returns one reservation owned by userID.
func (s *ReservationService) Get(ctx context.Context, id, userID string) (*entities.ReservationResponse, error) {
	res, _, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	out := s.toResponse(res)
	return &out, nil
}

// ListForUser returns the user's reservations, newest start first.
func (s *ReservationService) ListForUser(ctx context.Context, userID string) (*entities.ReservationsList, error) {
	list, err := s.store.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Dependency(err, "could not list reservations")
	}
	out := &entities.ReservationsList{
		Total:        len(list),
		Reservations: make([]entities.ReservationResponse, 0, len(list)),
	}
	for i := range list {
		out.Reservations = append(out.Reservations, s.toResponse(&list[i]))
	}
	return out, nil
}

// transition persists res in status next, provided the stored status is still
// the one res was read with. Callers hold the pool lock.
func (s *ReservationService) transition(ctx context.Context, res *db.Reservation, next db.Status, at time.Time) error {
	from := res.Status
	if !from.CanTransition(next) {
		return invalidState(fmt.Sprintf("Cannot move reservation from %s to %s", from, next), res)
	}
	res.Status = next
	res.UpdatedAt = at

	if err := s.store.UpdateReservation(ctx, res, from); err != nil {
		res.Status = from
		if errors.Is(err, repository.ErrStaleStatus) {
			return apperr.InvalidState("Reservation changed while processing the request").
				WithDetail("reservation_id", res.ID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Reservation not found").WithDetail("reservation_id", res.ID)
		}
		return apperr.Dependency(err, "could not update reservation %s", res.ID)
	}
	s.metrics.transition(string(next))
	s.logger.Info("reservation transitioned",
		zap.String("reservation_id", res.ID),
		zap.String("site_id", res.SiteID),
		zap.String("vehicle_type", string(res.VehicleType)),
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	return nil
}

// refresh recomputes current occupancy for the pool and publishes it. The
// mutation is already persisted, so a failure here is logged and not returned.
func (s *ReservationService) refresh(ctx context.Context, site *db.Site, vt db.VehicleType) {
	snap, err := s.ledger.Current(ctx, site, vt)
	if err != nil {
		s.logger.Warn("could not recompute occupancy for broadcast",
			zap.String("site_id", site.ID),
			zap.String("vehicle_type", string(vt)),
			zap.Error(err))
		return
	}
	s.metrics.observeSnapshot(snap)
	s.bcast.Publish(ctx, snap, s.civil.Format(snap.AsOf))
}

func (s *ReservationService) loadOwned(ctx context.Context, id, userID string) (*db.Reservation, *db.Site, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.NotFound("Reservation not found").WithDetail("reservation_id", id)
		}
		return nil, nil, apperr.Dependency(err, "could not load reservation %s", id)
	}
	if res.UserID != userID {
		return nil, nil, apperr.Forbidden("Not authorized")
	}
	site, err := loadSite(ctx, s.store, res.SiteID)
	if err != nil {
		return nil, nil, err
	}
	return res, site, nil
}

// reload re-reads res once the pool lock is held, so status checks see a
// concurrent sweep or request that finished first.
func (s *ReservationService) reload(ctx context.Context, res *db.Reservation) (*db.Reservation, error) {
	fresh, err := s.store.GetReservation(ctx, res.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Reservation not found").WithDetail("reservation_id", res.ID)
		}
		return nil, apperr.Dependency(err, "could not load reservation %s", res.ID)
	}
	return fresh, nil
}

func (s *ReservationService) toResponse(res *db.Reservation) entities.ReservationResponse {
	return entities.ReservationResponse{
		ID:                 res.ID,
		UserID:             res.UserID,
		SiteID:             res.SiteID,
		VehicleType:        string(res.VehicleType),
		VehiclePlate:       res.VehiclePlate,
		Status:             string(res.Status),
		StartTime:          res.StartTime,
		ArrivedAt:          res.ArrivedAt,
		EndTime:            res.EndTime,
		MaxEndTime:         res.MaxEndTime,
		Fee:                res.Fee,
		PaymentStatus:      string(res.PaymentStatus),
		StartTimeFormatted: s.civil.Format(res.StartTime),
		EndTimeFormatted:   s.civil.FormatPtr(res.EndTime),
		MaxEndFormatted:    s.civil.FormatPtr(res.MaxEndTime),
	}
}

func (s *ReservationService) finish(span trace.Span, err error) {
	if err != nil {
		kind := apperr.KindOf(err)
		s.metrics.rejected(string(kind))
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalidState(msg string, res *db.Reservation) error {
	return apperr.InvalidState("%s", msg).
		WithDetail("reservation_id", res.ID).
		WithDetail("status", string(res.Status))
}
