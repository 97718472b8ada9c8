package service

import (
	"context"
	"time"

	"parkd/internal/db"
)

// Store is the persistence the reservation core reads and writes. Implementations
// must reject a second outstanding reservation per user with
// repository.ErrOutstandingExists and treat UpdateReservation as a compare-and-swap
// on the previous status, returning repository.ErrStaleStatus when it lost.
type Store interface {
	Ping(ctx context.Context) error

	GetSite(ctx context.Context, id string) (*db.Site, error)
	ListSites(ctx context.Context) ([]db.Site, error)
	InsertSite(ctx context.Context, site *db.Site) error
	GetUser(ctx context.Context, id string) (*db.User, error)

	GetReservation(ctx context.Context, id string) (*db.Reservation, error)
	FindOutstandingByUser(ctx context.Context, userID string) (*db.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]db.Reservation, error)
	CountOccupancy(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (active, pending int, err error)
	CountOverlapping(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (int, error)
	EarliestPendingAfter(ctx context.Context, siteID string, vt db.VehicleType, after time.Time) (*db.Reservation, error)
	ListExpiredPending(ctx context.Context, before time.Time) ([]db.Reservation, error)
	InsertReservation(ctx context.Context, res *db.Reservation) error
	UpdateReservation(ctx context.Context, res *db.Reservation, from db.Status) error
}
