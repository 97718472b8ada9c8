package service

import (
	"context"
	"time"

	"parkd/internal/db"
	"parkd/internal/entities"
	"parkd/internal/utils"
)

const (
	DefaultProbeStep  = 30 * time.Minute
	DefaultProbeSteps = 48
	// fallbackDelay is the retry suggestion offered when the probe finds nothing.
	// It is a guess, not a verified free slot.
	fallbackDelay = time.Hour
)

// AvailabilityProber scans forward in fixed steps for the first instant at which
// a pool has a free spot. The scan does not lock, so its answer is advisory.
type AvailabilityProber struct {
	store Store
	civil *utils.CivilClock
	step  time.Duration
	steps int
}

func NewAvailabilityProber(store Store, civil *utils.CivilClock, step time.Duration, steps int) *AvailabilityProber {
	if step <= 0 {
		step = DefaultProbeStep
	}
	if steps <= 0 {
		steps = DefaultProbeSteps
	}
	return &AvailabilityProber{store: store, civil: civil, step: step, steps: steps}
}

// FindNextAvailable returns the first candidate after from, in step increments,
// where fewer than TotalSpots reservations hold the pool. It returns nil when
// the horizon is exhausted.
func (p *AvailabilityProber) FindNextAvailable(ctx context.Context, site *db.Site, vt db.VehicleType, from time.Time) (*time.Time, error) {
	total := site.Spots(vt)
	candidate := from
	for i := 0; i < p.steps; i++ {
		candidate = candidate.Add(p.step)
		n, err := p.store.CountOverlapping(ctx, site.ID, vt, candidate)
		if err != nil {
			return nil, err
		}
		if n < total {
			found := candidate
			return &found, nil
		}
	}
	return nil, nil
}

// Suggest wraps FindNextAvailable for callers that must show something: when the
// probe fails or finds nothing, it offers from+1h flagged as Heuristic.
func (p *AvailabilityProber) Suggest(ctx context.Context, site *db.Site, vt db.VehicleType, from time.Time) entities.NextAvailable {
	at, err := p.FindNextAvailable(ctx, site, vt, from)
	if err != nil {
		at = nil
	}
	return p.describe(from, at)
}

func (p *AvailabilityProber) describe(from time.Time, at *time.Time) entities.NextAvailable {
	out := entities.NextAvailable{HorizonEnds: from.Add(p.step * time.Duration(p.steps))}
	if at == nil {
		fallback := from.Add(fallbackDelay)
		at = &fallback
		out.Heuristic = true
	}
	out.At = at
	if p.civil != nil {
		out.Formatted = p.civil.Format(*at)
	}
	return out
}
