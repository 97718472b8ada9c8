package entities

import "time"

type ReservationResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	SiteID             string     `json:"parking_lot_id"`
	VehicleType        string     `json:"vehicle_type"`
	VehiclePlate       string     `json:"vehicle_number,omitempty"`
	Status             string     `json:"status"`
	StartTime          time.Time  `json:"start_time"`
	ArrivedAt          *time.Time `json:"arrived_at,omitempty"`
	EndTime            *time.Time `json:"end_time"`
	MaxEndTime         *time.Time `json:"max_end_time"`
	Fee                *float64   `json:"fee"`
	PaymentStatus      string     `json:"payment_status"`
	StartTimeFormatted string     `json:"start_time_formatted"`
	EndTimeFormatted   string     `json:"end_time_formatted,omitempty"`
	MaxEndFormatted    string     `json:"max_end_time_formatted,omitempty"`
	Warning            string     `json:"warning,omitempty"`
}

// EndResult is returned when a reservation completes.
type EndResult struct {
	ReservationResponse
	DurationHours float64  `json:"duration_hours"`
	IsLate        bool     `json:"is_late"`
	LateFee       *float64 `json:"late_fee,omitempty"`
}

// FeeBreakdown is the output of the fee calculator.
type FeeBreakdown struct {
	DurationHours float64
	CappedFee     float64
	LateFee       float64
	OvertimeHours float64
	IsLate        bool
	Total         float64
}
