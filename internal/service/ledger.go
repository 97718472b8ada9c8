package service

import (
	"context"
	"errors"
	"time"

	"parkd/internal/db"
	"parkd/internal/entities"
	apperr "parkd/internal/errors"
	"parkd/internal/repository"
)

// CapacityLedger computes occupancy of a (site, vehicle type) pool by reading
// reservation state. It never writes.
type CapacityLedger struct {
	store Store
	clock Clock
}

func NewCapacityLedger(store Store, clock Clock) *CapacityLedger {
	return &CapacityLedger{store: store, clock: clock}
}

// Occupancy counts active reservations covering at and pending reservations that
// started at or before at, and derives the free spots left in the pool.
func (l *CapacityLedger) Occupancy(ctx context.Context, site *db.Site, vt db.VehicleType, at time.Time) (entities.OccupancySnapshot, error) {
	active, pending, err := l.store.CountOccupancy(ctx, site.ID, vt, at)
	if err != nil {
		return entities.OccupancySnapshot{}, apperr.Dependency(err, "could not compute occupancy for site %s", site.ID)
	}
	total := site.Spots(vt)
	return entities.OccupancySnapshot{
		SiteID:          site.ID,
		VehicleType:     string(vt),
		TotalSpots:      total,
		OccupiedActive:  active,
		OccupiedPending: pending,
		AvailableSpots:  total - (active + pending),
		AsOf:            at,
	}, nil
}

// Current is Occupancy at the clock's now.
func (l *CapacityLedger) Current(ctx context.Context, site *db.Site, vt db.VehicleType) (entities.OccupancySnapshot, error) {
	return l.Occupancy(ctx, site, vt, l.clock.Now())
}

// Available is the number of free spots at at. Values <= 0 mean no spot.
func (l *CapacityLedger) Available(ctx context.Context, site *db.Site, vt db.VehicleType, at time.Time) (int, error) {
	snap, err := l.Occupancy(ctx, site, vt, at)
	if err != nil {
		return 0, err
	}
	return snap.AvailableSpots, nil
}

// loadSite maps store failures onto the typed taxonomy.
func loadSite(ctx context.Context, store Store, id string) (*db.Site, error) {
	site, err := store.GetSite(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("Parking lot not found").WithDetail("parking_lot_id", id)
		}
		return nil, apperr.Dependency(err, "could not load parking lot %s", id)
	}
	return site, nil
}
