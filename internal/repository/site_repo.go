package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"parkd/internal/db"
)

type SiteRepository struct {
	DB *sql.DB
}

func NewSiteRepository(conn *sql.DB) *SiteRepository {
	return &SiteRepository{DB: conn}
}

const siteColumns = `id, name, address, latitude, longitude, total_spots, rates, created_at`

func scanSite(row rowScanner) (*db.Site, error) {
	var (
		s            db.Site
		spots, rates []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Address, &s.Latitude, &s.Longitude, &spots, &rates, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(spots, &s.TotalSpots); err != nil {
		return nil, fmt.Errorf("error decoding total_spots of site %s: %w", s.ID, err)
	}
	if err := json.Unmarshal(rates, &s.Rates); err != nil {
		return nil, fmt.Errorf("error decoding rates of site %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *SiteRepository) GetSite(ctx context.Context, id string) (*db.Site, error) {
	site, err := scanSite(r.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("site '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error querying site: %w", err)
	}
	return site, nil
}

func (r *SiteRepository) ListSites(ctx context.Context) ([]db.Site, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error querying sites: %w", err)
	}
	defer rows.Close()

	var sites []db.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning site: %w", err)
		}
		sites = append(sites, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating site rows: %w", err)
	}
	return sites, nil
}

func (r *SiteRepository) InsertSite(ctx context.Context, s *db.Site) error {
	spots, err := json.Marshal(s.TotalSpots)
	if err != nil {
		return fmt.Errorf("error encoding total_spots: %w", err)
	}
	rates, err := json.Marshal(s.Rates)
	if err != nil {
		return fmt.Errorf("error encoding rates: %w", err)
	}
	query := `
		INSERT INTO sites (id, name, address, latitude, longitude, total_spots, rates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.DB.ExecContext(ctx, query, s.ID, s.Name, s.Address, s.Latitude, s.Longitude, spots, rates, s.CreatedAt); err != nil {
		return fmt.Errorf("error inserting site %s: %w", s.ID, err)
	}
	return nil
}

func (r *SiteRepository) GetUser(ctx context.Context, id string) (*db.User, error) {
	var u db.User
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, email, phone FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	return &u, nil
}
