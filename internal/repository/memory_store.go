package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parkd/internal/db"
)

// MemoryStore keeps sites and reservations in process. It enforces the same
// constraints as the Postgres schema: one outstanding reservation per user and
// status compare-and-swap on update.
type MemoryStore struct {
	mu           sync.RWMutex
	sites        map[string]*db.Site
	users        map[string]*db.User
	reservations map[string]*db.Reservation
	failWith     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:        make(map[string]*db.Site),
		users:        make(map[string]*db.User),
		reservations: make(map[string]*db.Reservation),
	}
}

// SetFailure makes every subsequent call return err, or restores normal operation when err is nil.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *MemoryStore) PutUser(u db.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failWith
}

func (s *MemoryStore) GetSite(ctx context.Context, id string) (*db.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	site, ok := s.sites[id]
	if !ok {
		return nil, fmt.Errorf("site '%s': %w", id, ErrNotFound)
	}
	c := *site
	return &c, nil
}

func (s *MemoryStore) ListSites(ctx context.Context) ([]db.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]db.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, *site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) InsertSite(ctx context.Context, site *db.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, exists := s.sites[site.ID]; exists {
		return fmt.Errorf("site %s already exists", site.ID)
	}
	c := *site
	s.sites[site.ID] = &c
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user '%s': %w", id, ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*db.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation '%s': %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) FindOutstandingByUser(ctx context.Context, userID string) (*db.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, r := range s.reservations {
		if r.UserID == userID && r.Status.Outstanding() {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListReservationsByUser(ctx context.Context, userID string) ([]db.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []db.Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func inPool(r *db.Reservation, siteID string, vt db.VehicleType) bool {
	return r.SiteID == siteID && r.VehicleType == vt
}

func covers(r *db.Reservation, at time.Time) bool {
	return !r.OccupiedFrom().After(at) && (r.EndTime == nil || r.EndTime.After(at))
}

func (s *MemoryStore) CountOccupancy(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return 0, 0, s.failWith
	}
	var active, pending int
	for _, r := range s.reservations {
		if !inPool(r, siteID, vt) {
			continue
		}
		switch r.Status {
		case db.StatusActive:
			if covers(r, at) {
				active++
			}
		case db.StatusPending:
			if !r.StartTime.After(at) {
				pending++
			}
		}
	}
	return active, pending, nil
}

func (s *MemoryStore) CountOverlapping(ctx context.Context, siteID string, vt db.VehicleType, at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	n := 0
	for _, r := range s.reservations {
		if inPool(r, siteID, vt) && r.Status.Outstanding() && covers(r, at) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) EarliestPendingAfter(ctx context.Context, siteID string, vt db.VehicleType, after time.Time) (*db.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var best *db.Reservation
	for _, r := range s.reservations {
		if !inPool(r, siteID, vt) || r.Status != db.StatusPending || !r.StartTime.After(after) {
			continue
		}
		if best == nil || r.StartTime.Before(best.StartTime) ||
			(r.StartTime.Equal(best.StartTime) && r.CreatedAt.Before(best.CreatedAt)) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (s *MemoryStore) ListExpiredPending(ctx context.Context, before time.Time) ([]db.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []db.Reservation
	for _, r := range s.reservations {
		if r.Status == db.StatusPending && r.StartTime.Before(before) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) InsertReservation(ctx context.Context, res *db.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, exists := s.reservations[res.ID]; exists {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}
	if res.Status.Outstanding() {
		for _, r := range s.reservations {
			if r.UserID == res.UserID && r.Status.Outstanding() {
				return ErrOutstandingExists
			}
		}
	}
	s.reservations[res.ID] = res.Clone()
	return nil
}

func (s *MemoryStore) UpdateReservation(ctx context.Context, res *db.Reservation, from db.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	cur, ok := s.reservations[res.ID]
	if !ok {
		return fmt.Errorf("reservation '%s': %w", res.ID, ErrNotFound)
	}
	if cur.Status != from {
		return ErrStaleStatus
	}
	s.reservations[res.ID] = res.Clone()
	return nil
}
