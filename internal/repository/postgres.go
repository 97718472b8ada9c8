package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore bundles the SQL repositories behind the store the services consume.
type PostgresStore struct {
	*ReservationRepository
	*SiteRepository
	*JobRepository
	conn *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{
		ReservationRepository: NewReservationRepository(conn),
		SiteRepository:        NewSiteRepository(conn),
		JobRepository:         NewJobRepository(conn),
		conn:                  conn,
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	return conn, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}
