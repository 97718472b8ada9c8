package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parkd/internal/db"
	"parkd/internal/entities"
	"parkd/internal/repository"
	"parkd/internal/utils"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var carRate = db.Rate{FirstHour: 50, AdditionalHour: 30, DailyCap: 300}

func testSite(id string, cars, bikes int) *db.Site {
	return &db.Site{
		ID:         id,
		Name:       "Lot " + id,
		Address:    "Somewhere",
		Latitude:   13.0417,
		Longitude:  80.2338,
		TotalSpots: map[db.VehicleType]int{db.VehicleCar: cars, db.VehicleBike: bikes},
		Rates: map[db.VehicleType]db.Rate{
			db.VehicleCar:  carRate,
			db.VehicleBike: {FirstHour: 20, AdditionalHour: 10, DailyCap: 100},
		},
	}
}

type harness struct {
	store  *repository.MemoryStore
	clock  *ManualClock
	civil  *utils.CivilClock
	bcast  *Broadcaster
	svc    *ReservationService
	notify *recordingNotifier
}

func newHarness(t *testing.T, sites ...*db.Site) *harness {
	t.Helper()
	h := &harness{
		store:  repository.NewMemoryStore(),
		clock:  NewManualClock(t0),
		civil:  utils.NewCivilClock("Asia/Kolkata"),
		notify: &recordingNotifier{},
	}
	for _, s := range sites {
		require.NoError(t, h.store.InsertSite(context.Background(), s))
	}
	h.bcast = NewBroadcaster(nil, nil, nil)
	h.svc = NewReservationService(ReservationServiceDeps{
		Store:       h.store,
		Clock:       h.clock,
		Civil:       h.civil,
		Broadcaster: h.bcast,
		Notifier:    h.notify,
	})
	return h
}

func (h *harness) available(t *testing.T, siteID string, vt db.VehicleType) int {
	t.Helper()
	site, err := h.store.GetSite(context.Background(), siteID)
	require.NoError(t, err)
	n, err := h.svc.Ledger().Available(context.Background(), site, vt, h.clock.Now())
	require.NoError(t, err)
	return n
}

type recordingNotifier struct {
	expired []string
	late    []string
}

func (r *recordingNotifier) ReservationExpired(_ context.Context, res *db.Reservation) {
	r.expired = append(r.expired, res.ID)
}

func (r *recordingNotifier) LateCompletion(_ context.Context, res *db.Reservation, _ float64) {
	r.late = append(r.late, res.ID)
}

func (h *harness) immediate(t *testing.T, user string) (*entities.ReservationResponse, error) {
	t.Helper()
	return h.svc.Create(context.Background(), user, entities.ReservationRequest{
		SiteID:      "s1",
		VehicleType: "car",
		ReserveNow:  true,
	})
}
