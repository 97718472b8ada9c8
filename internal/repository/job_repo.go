package repository

import (
	"context"
	"database/sql"
	"time"

	"parkd/internal/db"
)

type JobRepository struct {
	DB *sql.DB
}

func NewJobRepository(conn *sql.DB) *JobRepository {
	return &JobRepository{DB: conn}
}

// ListExpiredPending returns pending reservations whose start is before the given instant.
func (r *JobRepository) ListExpiredPending(ctx context.Context, before time.Time) ([]db.Reservation, error) {
	repo := ReservationRepository{DB: r.DB}
	return repo.queryReservations(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'pending' AND start_time < $1 ORDER BY start_time ASC`, before)
}
