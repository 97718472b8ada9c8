package entities

// ReservationNotice is what the notifier renders into email and SMS bodies.
type ReservationNotice struct {
	UserName           string
	ReservationID      string
	SiteName           string
	VehiclePlate       string
	StartTimeFormatted string
	Subject            string
	Body               string
}
