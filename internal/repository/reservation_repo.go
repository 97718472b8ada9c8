package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"parkd/internal/db"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrStaleStatus       = errors.New("reservation status changed concurrently")
	ErrOutstandingExists = errors.New("user already holds an outstanding reservation")
)

const (
	uniqueViolation      = "23505"
	outstandingIndexName = "reservations_one_outstanding_per_user"
)

// occupiedFrom is the SQL form of db.Reservation.OccupiedFrom.
const occupiedFrom = `LEAST(start_time, COALESCE(arrived_at, start_time))`

const reservationColumns = `id, user_id, site_id, vehicle_type, vehicle_plate, start_time, arrived_at, end_time, max_end_time, status, fee, payment_status, created_at, updated_at`

type ReservationRepository struct {
	DB *sql.DB
}

func NewReservationRepository(conn *sql.DB) *ReservationRepository {
	return &ReservationRepository{DB: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*db.Reservation, error) {
	var (
		res        db.Reservation
		vt, status string
		payment    string
		arrivedAt  sql.NullTime
		endTime    sql.NullTime
		maxEndTime sql.NullTime
		fee        sql.NullFloat64
	)
	err := row.Scan(&res.ID, &res.UserID, &res.SiteID, &vt, &res.VehiclePlate, &res.StartTime,
		&arrivedAt, &endTime, &maxEndTime, &status, &fee, &payment, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.VehicleType = db.VehicleType(vt)
	res.Status = db.Status(status)
	res.PaymentStatus = db.PaymentStatus(payment)
	if arrivedAt.Valid {
		t := arrivedAt.Time
		res.ArrivedAt = &t
	}
	if endTime.Valid {
		t := endTime.Time
		res.EndTime = &t
	}
	if maxEndTime.Valid {
		t := maxEndTime.Time
		res.MaxEndTime = &t
	}
	if fee.Valid {
		f := fee.Float64
		res.Fee = &f
	}
	return &res, nil
}

func (r *ReservationRepository) queryReservations(ctx context.Context, query string, args ...any) ([]db.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying reservations: %w", err)
	}
	defer rows.Close()

	var out []db.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating reservation rows: %w", err)
	}
	return out, nil
}

func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id::text = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error querying reservation: %w", err)
	}
	return res, nil
}

// FindOutstandingByUser returns the user's pending or active reservation, or ErrNotFound.
func (r *ReservationRepository) FindOutstandingByUser(ctx context.Context, userID string) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = $1 AND status = ANY($2) LIMIT 1`,
		userID, pq.Array([]string{string(db.StatusPending), string(db.StatusActive)}))
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying outstanding reservation: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) ListReservationsByUser(ctx context.Context, userID string) ([]db.Reservation, error) {
	return r.queryReservations(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = $1 ORDER BY start_time DESC`, userID)
}

// CountOccupancy counts active reservations covering at and pending reservations
// whose start is at or before at.
func (r *ReservationRepository) CountOccupancy(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active' AND `+occupiedFrom+` <= $3 AND (end_time IS NULL OR end_time > $3)),
			COUNT(*) FILTER (WHERE status = 'pending' AND start_time <= $3)
		FROM reservations
		WHERE site_id = $1 AND vehicle_type = $2 AND status IN ('active', 'pending')`
	var active, pending int
	if err := r.DB.QueryRowContext(ctx, query, siteID, string(vt), at).Scan(&active, &pending); err != nil {
		return 0, 0, fmt.Errorf("error counting occupancy: %w", err)
	}
	return active, pending, nil
}

// CountOverlapping counts active and pending reservations that hold a spot at at.
func (r *ReservationRepository) CountOverlapping(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM reservations
		WHERE site_id = $1 AND vehicle_type = $2
			AND status = ANY($3)
			AND `+occupiedFrom+` <= $4
			AND (end_time IS NULL OR end_time > $4)`
	var n int
	err := r.DB.QueryRowContext(ctx, query, siteID, string(vt),
		pq.Array([]string{string(db.StatusActive), string(db.StatusPending)}), at).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting overlapping reservations: %w", err)
	}
	return n, nil
}

// EarliestPendingAfter returns the pending reservation with the smallest start strictly after after.
func (r *ReservationRepository) EarliestPendingAfter(ctx context.Context, siteID string, vt db.VehicleType, after time.Time) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE site_id = $1 AND vehicle_type = $2 AND status = 'pending' AND start_time > $3
		ORDER BY start_time ASC, created_at ASC LIMIT 1`, siteID, string(vt), after)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying upcoming reservation: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) InsertReservation(ctx context.Context, res *db.Reservation) error {
	query := `
		INSERT INTO reservations
		(id, user_id, site_id, vehicle_type, vehicle_plate, start_time, arrived_at, end_time, max_end_time, status, fee, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.DB.ExecContext(ctx, query,
		res.ID,
		res.UserID,
		res.SiteID,
		string(res.VehicleType),
		res.VehiclePlate,
		res.StartTime,
		nullTime(res.ArrivedAt),
		nullTime(res.EndTime),
		nullTime(res.MaxEndTime),
		string(res.Status),
		nullFloat(res.Fee),
		string(res.PaymentStatus),
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == outstandingIndexName {
			return ErrOutstandingExists
		}
		return fmt.Errorf("error inserting reservation: %w", err)
	}
	return nil
}

// UpdateReservation writes the mutable fields of res, but only if the stored
// status still equals from. A lost race returns ErrStaleStatus.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, res *db.Reservation, from db.Status) error {
	query := `
		UPDATE reservations
		SET vehicle_plate = $2, start_time = $3, arrived_at = $4, end_time = $5, max_end_time = $6,
			status = $7, fee = $8, payment_status = $9, updated_at = $10
		WHERE id::text = $1 AND status = $11`
	result, err := r.DB.ExecContext(ctx, query,
		res.ID,
		res.VehiclePlate,
		res.StartTime,
		nullTime(res.ArrivedAt),
		nullTime(res.EndTime),
		nullTime(res.MaxEndTime),
		string(res.Status),
		nullFloat(res.Fee),
		string(res.PaymentStatus),
		res.UpdatedAt,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("error updating reservation %s: %w", res.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
