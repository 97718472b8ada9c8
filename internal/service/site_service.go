package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"parkd/internal/db"
	"parkd/internal/entities"
	apperr "parkd/internal/errors"
	"parkd/internal/geocode"
	"parkd/internal/utils"
)

// DefaultSearchRadiusKm applies when a nearby search gives no radius.
const DefaultSearchRadiusKm = 5.0

const earthRadiusKm = 6371.0

// Geocoder resolves an address to coordinates, returning geocode.ErrNoResults
// when nothing matches.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocode.Result, error)
}

// SiteService answers read-only questions about sites and their capacity.
type SiteService struct {
	store    Store
	ledger   *CapacityLedger
	prober   *AvailabilityProber
	geocoder Geocoder
	clock    Clock
	civil    *utils.CivilClock
	logger   *zap.Logger
}

func NewSiteService(store Store, clock Clock, civil *utils.CivilClock, prober *AvailabilityProber, geocoder Geocoder, logger *zap.Logger) *SiteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if civil == nil {
		civil = utils.NewCivilClock("")
	}
	if prober == nil {
		prober = NewAvailabilityProber(store, civil, 0, 0)
	}
	return &SiteService{
		store:    store,
		ledger:   NewCapacityLedger(store, clock),
		prober:   prober,
		geocoder: geocoder,
		clock:    clock,
		civil:    civil,
		logger:   logger,
	}
}

// GetSite returns a site with current availability for every vehicle type.
func (s *SiteService) GetSite(ctx context.Context, id string) (*entities.SiteResponse, error) {
	site, err := loadSite(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	out, err := s.view(ctx, site, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNearby returns sites within radiusKm of (lat, lng), closest first.
func (s *SiteService) ListNearby(ctx context.Context, lat, lng, radiusKm float64) ([]entities.SiteResponse, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperr.Validation("Latitude and longitude are out of range").
			WithDetail("lat", lat).
			WithDetail("lng", lng)
	}
	if radiusKm <= 0 {
		radiusKm = DefaultSearchRadiusKm
	}

	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return nil, apperr.Dependency(err, "could not list parking lots")
	}

	type candidate struct {
		site     db.Site
		distance float64
	}
	var near []candidate
	for _, site := range sites {
		d := haversineKm(lat, lng, site.Latitude, site.Longitude)
		if d <= radiusKm {
			near = append(near, candidate{site: site, distance: d})
		}
	}
	sort.Slice(near, func(i, j int) bool { return near[i].distance < near[j].distance })

	now := s.clock.Now()
	out := make([]entities.SiteResponse, 0, len(near))
	for i := range near {
		view, err := s.view(ctx, &near[i].site, now)
		if err != nil {
			return nil, err
		}
		d := math.Round(near[i].distance*100) / 100
		view.DistanceKm = &d
		out = append(out, view)
	}
	return out, nil
}

// ListByDestination geocodes address and lists the sites around it.
func (s *SiteService) ListByDestination(ctx context.Context, address string, radiusKm float64) (*entities.DestinationResponse, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, apperr.Validation("address is required")
	}
	if s.geocoder == nil {
		return nil, apperr.Dependency(errors.New("no geocoder configured"), "search by destination is unavailable")
	}

	loc, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		if errors.Is(err, geocode.ErrNoResults) {
			return nil, apperr.NotFound("Destination not found").WithDetail("address", address)
		}
		s.logger.Warn("geocoding failed", zap.String("address", address), zap.Error(err))
		return nil, apperr.Dependency(err, "could not resolve destination")
	}

	sites, err := s.ListNearby(ctx, loc.Latitude, loc.Longitude, radiusKm)
	if err != nil {
		return nil, err
	}
	return &entities.DestinationResponse{
		Query:            address,
		FormattedAddress: loc.FormattedAddress,
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		Sites:            sites,
	}, nil
}

// CheckAvailability reports occupancy of a pool at an instant, RFC 3339 or
// empty for now. When the pool is full the prober's suggestion is attached.
func (s *SiteService) CheckAvailability(ctx context.Context, siteID, vehicleType, at string) (*entities.AvailabilityResponse, error) {
	site, vt, instant, err := s.poolQuery(ctx, siteID, vehicleType, at, "at")
	if err != nil {
		return nil, err
	}
	snap, err := s.ledger.Occupancy(ctx, site, vt, instant)
	if err != nil {
		return nil, err
	}
	out := &entities.AvailabilityResponse{
		OccupancySnapshot: snap,
		IsAvailable:       snap.HasRoom(),
		AsOfFormatted:     s.civil.Format(snap.AsOf),
	}
	if !out.IsAvailable {
		next := s.prober.Suggest(ctx, site, vt, instant)
		out.NextAvailable = &next
	}
	return out, nil
}

// NextAvailable runs the forward probe from from, RFC 3339 or empty for now.
// A probe that finds nothing yields the heuristic fallback.
func (s *SiteService) NextAvailable(ctx context.Context, siteID, vehicleType, from string) (*entities.NextAvailable, error) {
	site, vt, instant, err := s.poolQuery(ctx, siteID, vehicleType, from, "from")
	if err != nil {
		return nil, err
	}
	at, err := s.prober.FindNextAvailable(ctx, site, vt, instant)
	if err != nil {
		return nil, apperr.Dependency(err, "could not search for the next available time")
	}
	next := s.prober.describe(instant, at)
	return &next, nil
}

func (s *SiteService) poolQuery(ctx context.Context, siteID, vehicleType, at, field string) (*db.Site, db.VehicleType, time.Time, error) {
	vt, err := utils.ParseVehicleType(vehicleType)
	if err != nil {
		return nil, "", time.Time{}, apperr.Validation("%v", err).WithDetail("vehicle_type", vehicleType)
	}
	instant := s.clock.Now()
	if at != "" {
		instant, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, "", time.Time{}, apperr.Validation("%s must be an RFC 3339 timestamp", field).WithDetail(field, at)
		}
		instant = instant.UTC()
	}
	site, err := loadSite(ctx, s.store, siteID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return site, vt, instant, nil
}

func (s *SiteService) view(ctx context.Context, site *db.Site, now time.Time) (entities.SiteResponse, error) {
	out := entities.SiteResponse{
		ID:          site.ID,
		Name:        site.Name,
		Address:     site.Address,
		Latitude:    site.Latitude,
		Longitude:   site.Longitude,
		Rates:       make(map[string]entities.RateResponse, len(site.Rates)),
		Spots:       make(map[string]entities.PoolAvailability, len(db.VehicleTypes)),
		CurrentTime: s.civil.Format(now),
	}
	for vt, r := range site.Rates {
		out.Rates[string(vt)] = entities.RateResponse{
			FirstHour:      r.FirstHour,
			AdditionalHour: r.AdditionalHour,
			DailyCap:       r.DailyCap,
		}
	}
	for _, vt := range db.VehicleTypes {
		snap, err := s.ledger.Occupancy(ctx, site, vt, now)
		if err != nil {
			return entities.SiteResponse{}, err
		}
		out.Spots[string(vt)] = entities.PoolAvailability{
			Total:     snap.TotalSpots,
			Available: snap.AvailableSpots,
			Active:    snap.OccupiedActive,
			Pending:   snap.OccupiedPending,
		}
	}
	return out, nil
}

// haversineKm is the great circle distance between two points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
