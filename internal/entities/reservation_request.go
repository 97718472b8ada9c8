package entities

type ReservationRequest struct {
	SiteID       string `json:"parking_lot_id"`
	VehicleType  string `json:"vehicle_type"`
	VehiclePlate string `json:"vehicle_number"`
	// StartTime is RFC 3339; empty means now.
	StartTime  string `json:"start_time"`
	ReserveNow bool   `json:"reserve_now"`
}
