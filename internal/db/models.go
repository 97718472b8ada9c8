package db

import "time"

type VehicleType string

const (
	VehicleCar  VehicleType = "car"
	VehicleBike VehicleType = "bike"
)

// VehicleTypes lists every vehicle type a site can hold spots for.
var VehicleTypes = []VehicleType{VehicleCar, VehicleBike}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether a reservation may move from s to next.
// completed and cancelled are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted
	}
	return false
}

// Outstanding reports whether the status still holds a spot for its owner.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusActive
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type Rate struct {
	FirstHour      float64 `json:"first_hour"`
	AdditionalHour float64 `json:"additional_hour"`
	DailyCap       float64 `json:"daily_cap"`
}

type Site struct {
	ID         string
	Name       string
	Address    string
	Latitude   float64
	Longitude  float64
	TotalSpots map[VehicleType]int
	Rates      map[VehicleType]Rate
	CreatedAt  time.Time
}

// Spots returns the configured capacity for vt, zero when the site has none.
func (s *Site) Spots(vt VehicleType) int {
	if s == nil || s.TotalSpots == nil {
		return 0
	}
	return s.TotalSpots[vt]
}

func (s *Site) Rate(vt VehicleType) (Rate, bool) {
	if s == nil || s.Rates == nil {
		return Rate{}, false
	}
	r, ok := s.Rates[vt]
	return r, ok
}

type Reservation struct {
	ID            string
	UserID        string
	SiteID        string
	VehicleType   VehicleType
	VehiclePlate  string
	StartTime     time.Time
	ArrivedAt     *time.Time
	EndTime       *time.Time
	MaxEndTime    *time.Time
	Status        Status
	Fee           *float64
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.ArrivedAt != nil {
		t := *r.ArrivedAt
		c.ArrivedAt = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	if r.MaxEndTime != nil {
		t := *r.MaxEndTime
		c.MaxEndTime = &t
	}
	if r.Fee != nil {
		f := *r.Fee
		c.Fee = &f
	}
	return &c
}

// OccupiedFrom is when the reservation starts holding its spot: the scheduled
// start, or the arrival when the owner started early. Billing always uses
// StartTime.
func (r *Reservation) OccupiedFrom() time.Time {
	if r.ArrivedAt != nil && r.ArrivedAt.Before(r.StartTime) {
		return *r.ArrivedAt
	}
	return r.StartTime
}

// User carries the contact details used for best effort notifications.
type User struct {
	ID    string
	Name  string
	Email string
	Phone string
}
