package entities

import "time"

// OccupancySnapshot is the ledger's view of one (site, vehicle type) pool at an instant.
type OccupancySnapshot struct {
	SiteID          string    `json:"site_id"`
	VehicleType     string    `json:"vehicle_type"`
	TotalSpots      int       `json:"total_spots"`
	OccupiedActive  int       `json:"occupied_active"`
	OccupiedPending int       `json:"occupied_pending"`
	AvailableSpots  int       `json:"available_spots"`
	AsOf            time.Time `json:"as_of"`
}

// HasRoom reports whether at least one spot is free. Negative availability
// can appear transiently and counts as full.
func (s OccupancySnapshot) HasRoom() bool {
	return s.AvailableSpots > 0
}

// NextAvailable is the prober's answer. Heuristic is set when no free slot was
// found within the horizon and At is only a suggested retry instant.
type NextAvailable struct {
	At          *time.Time `json:"next_available"`
	Formatted   string     `json:"next_available_formatted,omitempty"`
	Heuristic   bool       `json:"heuristic"`
	HorizonEnds time.Time  `json:"horizon_ends"`
}

type AvailabilityResponse struct {
	OccupancySnapshot
	IsAvailable   bool           `json:"is_available"`
	AsOfFormatted string         `json:"as_of_formatted"`
	NextAvailable *NextAvailable `json:"next_available,omitempty"`
}

// AvailabilityUpdate is the event pushed to subscribers of a site.
type AvailabilityUpdate struct {
	SiteID          string    `json:"lot_id"`
	VehicleType     string    `json:"vehicle_type"`
	AvailableSpots  int       `json:"available_spots"`
	OccupiedActive  int       `json:"occupied_active"`
	OccupiedPending int       `json:"occupied_pending"`
	AsOf            time.Time `json:"as_of"`
	UpdatedAt       string    `json:"updated_at"`
}

// PoolAvailability is the per vehicle type block of a site view.
type PoolAvailability struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
}

type SiteResponse struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Address     string                      `json:"address"`
	Latitude    float64                     `json:"lat"`
	Longitude   float64                     `json:"lng"`
	Rates       map[string]RateResponse     `json:"rates"`
	Spots       map[string]PoolAvailability `json:"spots"`
	DistanceKm  *float64                    `json:"distance_km,omitempty"`
	CurrentTime string                      `json:"current_time"`
}

type RateResponse struct {
	FirstHour      float64 `json:"first_hour"`
	AdditionalHour float64 `json:"additional_hour"`
	DailyCap       float64 `json:"daily_cap"`
}

type DestinationResponse struct {
	Query            string         `json:"query"`
	FormattedAddress string         `json:"formatted_address"`
	Latitude         float64        `json:"lat"`
	Longitude        float64        `json:"lng"`
	Sites            []SiteResponse `json:"lots"`
}
