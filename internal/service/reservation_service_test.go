package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"parkd/internal/db"
	"parkd/internal/entities"
	apperr "parkd/internal/errors"
	"parkd/internal/repository"
)

type ReservationServiceSuite struct {
	suite.Suite
	ctx context.Context
	h   *harness
}

func TestReservationServiceSuite(t *testing.T) {
	suite.Run(t, new(ReservationServiceSuite))
}

func (s *ReservationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.h = newHarness(s.T(), testSite("s1", 1, 1), testSite("s2", 2, 0))
}

func (s *ReservationServiceSuite) immediate(user, site string) (*entities.ReservationResponse, error) {
	return s.h.svc.Create(s.ctx, user, entities.ReservationRequest{
		SiteID:       site,
		VehicleType:  "car",
		VehiclePlate: "TN01AB" + user,
		ReserveNow:   true,
	})
}

func (s *ReservationServiceSuite) scheduled(user, site string, start time.Time) (*entities.ReservationResponse, error) {
	return s.h.svc.Create(s.ctx, user, entities.ReservationRequest{
		SiteID:      site,
		VehicleType: "car",
		StartTime:   start.Format(time.RFC3339),
	})
}

func (s *ReservationServiceSuite) requireKind(err error, kind apperr.Kind) *apperr.Error {
	var e *apperr.Error
	s.Require().ErrorAs(err, &e)
	s.Require().Equal(kind, e.Kind, "unexpected error: %v", err)
	return e
}

func (s *ReservationServiceSuite) TestImmediateTakesTheOnlySpot() {
	res, err := s.immediate("u1", "s1")
	s.Require().NoError(err)
	s.Equal("active", res.Status)
	s.Equal(t0, res.StartTime)
	s.Nil(res.MaxEndTime)
	s.Empty(res.Warning)
	s.Equal("01 Jun 2025, 03:30 PM IST", res.StartTimeFormatted)
	s.Equal(0, s.h.available(s.T(), "s1", db.VehicleCar))
}

func (s *ReservationServiceSuite) TestFullPoolSuggestsNextAvailable() {
	_, err := s.immediate("u1", "s1")
	s.Require().NoError(err)

	_, err = s.immediate("u2", "s1")
	e := s.requireKind(err, apperr.KindConflict)
	next, ok := e.Details["next_available"].(*time.Time)
	s.Require().True(ok)
	s.False(next.Before(s.h.clock.Now()))
	s.Equal(true, e.Details["heuristic"])

	list, err := s.h.svc.ListForUser(s.ctx, "u2")
	s.Require().NoError(err)
	s.Zero(list.Total)
}

func (s *ReservationServiceSuite) TestImmediateDecrementsAvailabilityByOne() {
	before := s.h.available(s.T(), "s2", db.VehicleCar)
	_, err := s.immediate("u1", "s2")
	s.Require().NoError(err)
	s.Equal(before-1, s.h.available(s.T(), "s2", db.VehicleCar))
	s.Equal(1, s.h.available(s.T(), "s2", db.VehicleCar))
}

func (s *ReservationServiceSuite) TestOneOutstandingReservationPerUser() {
	_, err := s.scheduled("u1", "s2", t0.Add(time.Hour))
	s.Require().NoError(err)

	_, err = s.immediate("u1", "s1")
	e := s.requireKind(err, apperr.KindConflict)
	s.Equal("pending", e.Details["status"])
}

func (s *ReservationServiceSuite) TestValidation() {
	_, err := s.h.svc.Create(s.ctx, "u1", entities.ReservationRequest{SiteID: "s1", VehicleType: "truck"})
	s.requireKind(err, apperr.KindValidation)

	_, err = s.h.svc.Create(s.ctx, "u1", entities.ReservationRequest{SiteID: "s1", VehicleType: "car", StartTime: "tomorrow"})
	s.requireKind(err, apperr.KindValidation)

	_, err = s.h.svc.Create(s.ctx, "u1", entities.ReservationRequest{VehicleType: "car"})
	s.requireKind(err, apperr.KindValidation)

	_, err = s.scheduled("u1", "s1", t0.Add(-time.Hour))
	s.requireKind(err, apperr.KindValidation)

	_, err = s.immediate("u1", "missing")
	s.requireKind(err, apperr.KindNotFound)
}

func (s *ReservationServiceSuite) TestScheduledRespectsPendingAtRequestedStart() {
	_, err := s.scheduled("u1", "s1", t0.Add(time.Hour))
	s.Require().NoError(err)

	_, err = s.scheduled("u2", "s1", t0.Add(90*time.Minute))
	s.requireKind(err, apperr.KindConflict)

	res, err := s.scheduled("u3", "s1", t0.Add(30*time.Minute))
	s.Require().NoError(err)
	s.Equal("pending", res.Status)
}

func (s *ReservationServiceSuite) TestLastSpotGetsMaxEnd() {
	upcoming := t0.Add(150 * time.Minute)
	_, err := s.scheduled("u1", "s1", upcoming)
	s.Require().NoError(err)

	res, err := s.immediate("u2", "s1")
	s.Require().NoError(err)
	s.Require().NotNil(res.MaxEndTime)
	s.Equal(upcoming, *res.MaxEndTime)
	s.Equal("Your parking is only available until 01 Jun 2025, 06:00 PM IST due to an upcoming reservation.", res.Warning)

	site, err := s.h.store.GetSite(s.ctx, "s1")
	s.Require().NoError(err)
	snap, err := s.h.svc.Ledger().Occupancy(s.ctx, site, db.VehicleCar, upcoming)
	s.Require().NoError(err)
	s.Equal(2, snap.OccupiedActive+snap.OccupiedPending, "overbooked by one only behind a max-end")
}

func (s *ReservationServiceSuite) TestNoMaxEndWhenSpotsRemain() {
	_, err := s.scheduled("u1", "s2", t0.Add(time.Hour))
	s.Require().NoError(err)

	res, err := s.immediate("u2", "s2")
	s.Require().NoError(err)
	s.Nil(res.MaxEndTime)
}

func (s *ReservationServiceSuite) TestStartTooEarly() {
	scheduledAt := t0.Add(time.Hour)
	res, err := s.scheduled("u1", "s1", scheduledAt)
	s.Require().NoError(err)

	s.h.clock.Set(scheduledAt.Add(-20 * time.Minute))
	_, err = s.h.svc.Start(s.ctx, res.ID, "u1")
	e := s.requireKind(err, apperr.KindTooEarly)
	s.Equal(scheduledAt, e.Details["scheduled_at"])
	s.Equal(scheduledAt.Add(-15*time.Minute), e.Details["earliest_start_at"])
	s.Equal("01 Jun 2025, 04:30 PM IST", e.Details["scheduled_time"])
	s.Equal("01 Jun 2025, 04:15 PM IST", e.Details["earliest_start"])
	s.Equal("01 Jun 2025, 04:10 PM IST", e.Details["current_time"])
}

func (s *ReservationServiceSuite) TestStartWithinGraceWindow() {
	scheduledAt := t0.Add(time.Hour)
	res, err := s.scheduled("u1", "s1", scheduledAt)
	s.Require().NoError(err)

	arrival := scheduledAt.Add(-10 * time.Minute)
	s.h.clock.Set(arrival)
	started, err := s.h.svc.Start(s.ctx, res.ID, "u1")
	s.Require().NoError(err)
	s.Equal("active", started.Status)
	s.Equal(scheduledAt, started.StartTime, "billing keeps the scheduled start")
	s.Require().NotNil(started.ArrivedAt)
	s.Equal(arrival, *started.ArrivedAt)
	s.Equal(0, s.h.available(s.T(), "s1", db.VehicleCar), "an early start holds the spot from arrival")

	stored, err := s.h.store.GetReservation(s.ctx, res.ID)
	s.Require().NoError(err)
	s.Equal(scheduledAt, stored.StartTime)

	_, err = s.h.svc.Start(s.ctx, res.ID, "u1")
	s.requireKind(err, apperr.KindInvalidState)
}

func (s *ReservationServiceSuite) TestEarlyStartBillsFromScheduledStart() {
	scheduledAt := t0.Add(time.Hour)
	res, err := s.scheduled("u1", "s1", scheduledAt)
	s.Require().NoError(err)

	s.h.clock.Set(scheduledAt.Add(-10 * time.Minute))
	_, err = s.h.svc.Start(s.ctx, res.ID, "u1")
	s.Require().NoError(err)

	s.h.clock.Set(scheduledAt.Add(2 * time.Hour))
	ended, err := s.h.svc.End(s.ctx, res.ID, "u1")
	s.Require().NoError(err)
	s.Equal(2.0, ended.DurationHours)
	s.Require().NotNil(ended.Fee)
	s.Equal(80.0, *ended.Fee)
}

func (s *ReservationServiceSuite) TestEndBeforeScheduledStartAfterEarlyArrival() {
	scheduledAt := t0.Add(time.Hour)
	res, err := s.scheduled("u1", "s1", scheduledAt)
	s.Require().NoError(err)

	s.h.clock.Set(scheduledAt.Add(-10 * time.Minute))
	_, err = s.h.svc.Start(s.ctx, res.ID, "u1")
	s.Require().NoError(err)

	s.h.clock.Advance(5 * time.Minute)
	ended, err := s.h.svc.End(s.ctx, res.ID, "u1")
	s.Require().NoError(err)
	s.Zero(ended.DurationHours)
	s.Equal(50.0, *ended.Fee)
	s.Require().NotNil(ended.EndTime)
	s.Equal(scheduledAt, *ended.EndTime)
}

func (s *ReservationServiceSuite) TestImmediateWaitsForDuePending() {
	due, err := s.scheduled("u1", "s1", t0.Add(-5*time.Minute))
	s.Require().NoError(err)
	s.Equal(0, s.h.available(s.T(), "s1", db.VehicleCar))

	_, err = s.immediate("u2", "s1")
	s.requireKind(err, apperr.KindConflict)
	s.Equal(0, s.h.available(s.T(), "s1", db.VehicleCar), "never below zero")

	_, err = s.h.svc.Cancel(s.ctx, due.ID, "u1")
	s.Require().NoError(err)
	res, err := s.immediate("u2", "s1")
	s.Require().NoError(err)
	s.Equal("active", res.Status)
	s.Nil(res.MaxEndTime)
}

func (s *ReservationServiceSuite) TestStartRereadsStatusUnderLock() {
	res, err := s.scheduled("u1", "s1", t0)
	s.Require().NoError(err)
	before, err := s.h.store.GetReservation(s.ctx, res.ID)
	s.Require().NoError(err)

	_, err = s.h.svc.Cancel(s.ctx, res.ID, "u1")
	s.Require().NoError(err)

	stale := &staleReadStore{MemoryStore: s.h.store, stale: before}
	svc := NewReservationService(ReservationServiceDeps{Store: stale, Clock: s.h.clock, Civil: s.h.civil})

	_, err = svc.Start(s.ctx, res.ID, "u1")
	e := s.requireKind(err, apperr.KindInvalidState)
	s.Equal("Reservation is already cancelled", e.Message)
	s.Equal("cancelled", e.Details["status"])
	s.True(stale.served, "the first read returned the pending copy")
}

func (s *ReservationServiceSuite) TestOwnershipAndExistence() {
	res, err := s.scheduled("u1", "s1", t0)
	s.Require().NoError(err)

	_, err = s.h.svc.Start(s.ctx, res.ID, "intruder")
	s.requireKind(err, apperr.KindForbidden)
	_, err = s.h.svc.End(s.ctx, res.ID, "intruder")
	s.requireKind(err, apperr.KindForbidden)
	_, err = s.h.svc.Cancel(s.ctx, res.ID, "intruder")
	s.requireKind(err, apperr.KindForbidden)

	_, err = s.h.svc.Start(s.ctx, "nope", "u1")
	s.requireKind(err, apperr.KindNotFound)
	_, err = s.h.svc.Get(s.ctx, "nope", "u1")
	s.requireKind(err, apperr.KindNotFound)
}

func (s *ReservationServiceSuite) TestCancelTwice() {
	res, err := s.scheduled("u1", "s1", t0.Add(time.Hour))
	s.Require().NoError(err)

	cancelled, err := s.h.svc.Cancel(s.ctx, res.ID, "u1")
	s.Require().NoError(err)
	s.Equal("cancelled", cancelled.Status)

	_, err = s.h.svc.Cancel(s.ctx, res.ID, "u1")
	s.requireKind(err, apperr.KindInvalidState)

	_, err = s.immediate("u1", "s1")
	s.NoError(err, "a cancelled reservation no longer blocks its owner")
}

func (s *ReservationServiceSuite) TestActiveCannotBeCancelled() {
	res, err := s.immediate("u1", "s1")
	s.Require().NoError(err)

	_, err = s.h.svc.Cancel(s.ctx, res.ID, "u1")
	s.requireKind(err, apperr.KindInvalidState)
}

func (s *ReservationServiceSuite) TestEndChargesForTheStay() {
	res, err := s.immediate("u1", "s1")
	s.Require().NoError(err)

	s.h.clock.Advance(210 * time.Minute)
	ended, err := s.h.svc.End(s.ctx, res.ID, "u1")
	s.Require().NoError(err)
	s.Equal("completed", ended.Status)
	s.Equal(3.5, ended.DurationHours)
	s.Require().NotNil(ended.Fee)
	s.Equal(125.0, *ended.Fee)
	s.False(ended.IsLate)
	s.Nil(ended.LateFee)
	s.Empty(ended.Warning)
	s.Equal(1, s.h.available(s.T(), "s1", db.VehicleCar))

	_, err = s.h.svc.End(s.ctx, res.ID, "u1")
	s.requireKind(err, apperr.KindInvalidState)
}

func (s *ReservationServiceSuite) TestEndPastMaxEndAddsLateFee() {
	_, err := s.scheduled("u1", "s1", t0.Add(150*time.Minute))
	s.Require().NoError(err)
	res, err := s.immediate("u2", "s1")
	s.Require().NoError(err)
	s.Require().NotNil(res.MaxEndTime)

	s.h.clock.Advance(210 * time.Minute)
	ended, err := s.h.svc.End(s.ctx, res.ID, "u2")
	s.Require().NoError(err)
	s.True(ended.IsLate)
	s.Require().NotNil(ended.LateFee)
	s.Equal(45.0, *ended.LateFee)
	s.Equal(170.0, *ended.Fee)
	s.Equal("You were parked beyond the maximum allowed time due to another reservation.", ended.Warning)
	s.Equal([]string{res.ID}, s.h.notify.late)
}

func (s *ReservationServiceSuite) TestEndRequiresActive() {
	res, err := s.scheduled("u1", "s1", t0.Add(time.Hour))
	s.Require().NoError(err)

	_, err = s.h.svc.End(s.ctx, res.ID, "u1")
	s.requireKind(err, apperr.KindInvalidState)
}

func (s *ReservationServiceSuite) TestMutationsBroadcastToSiteSubscribers() {
	updates, cancel := s.h.bcast.Subscribe("s1")
	defer cancel()
	other, cancelOther := s.h.bcast.Subscribe("s2")
	defer cancelOther()

	res, err := s.immediate("u1", "s1")
	s.Require().NoError(err)
	s.h.clock.Advance(time.Hour)
	_, err = s.h.svc.End(s.ctx, res.ID, "u1")
	s.Require().NoError(err)

	first := <-updates
	s.Equal("s1", first.SiteID)
	s.Equal("car", first.VehicleType)
	s.Equal(0, first.AvailableSpots)
	s.Equal(1, first.OccupiedActive)

	second := <-updates
	s.Equal(1, second.AvailableSpots)
	s.Equal(0, second.OccupiedActive)

	s.Empty(other)
}

func (s *ReservationServiceSuite) TestStoreFailureIsDependency() {
	s.h.store.SetFailure(fmt.Errorf("connection reset"))
	_, err := s.immediate("u1", "s1")
	s.requireKind(err, apperr.KindDependency)
}

func (s *ReservationServiceSuite) TestListForUserNewestFirst() {
	first, err := s.scheduled("u1", "s2", t0.Add(time.Hour))
	s.Require().NoError(err)
	_, err = s.h.svc.Cancel(s.ctx, first.ID, "u1")
	s.Require().NoError(err)
	second, err := s.scheduled("u1", "s2", t0.Add(3*time.Hour))
	s.Require().NoError(err)

	list, err := s.h.svc.ListForUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Equal(2, list.Total)
	s.Equal(second.ID, list.Reservations[0].ID)
	s.Equal(first.ID, list.Reservations[1].ID)
}

// staleReadStore answers the first read of a reservation with an older copy,
// as if a concurrent writer committed between the read and the pool lock.
type staleReadStore struct {
	*repository.MemoryStore
	stale  *db.Reservation
	served bool
}

func (s *staleReadStore) GetReservation(ctx context.Context, id string) (*db.Reservation, error) {
	if !s.served && s.stale != nil && s.stale.ID == id {
		s.served = true
		return s.stale.Clone(), nil
	}
	return s.MemoryStore.GetReservation(ctx, id)
}

func TestReservationService_ConcurrentCreatesNeverOversell(t *testing.T) {
	h := newHarness(t, testSite("s1", 1, 0))

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Create(context.Background(), fmt.Sprintf("user-%d", i), entities.ReservationRequest{
				SiteID:      "s1",
				VehicleType: "car",
				ReserveNow:  true,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apperr.Is(err, apperr.KindConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, 0, h.available(t, "s1", db.VehicleCar))
}

func TestReservationService_ConcurrentSameUser(t *testing.T) {
	h := newHarness(t, testSite("s1", 5, 0), testSite("s2", 5, 0))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			site := "s1"
			if i%2 == 1 {
				site = "s2"
			}
			_, errs[i] = h.svc.Create(context.Background(), "u1", entities.ReservationRequest{
				SiteID:      site,
				VehicleType: "car",
				ReserveNow:  true,
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, apperr.Is(err, apperr.KindConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)
}
