package utils

import (
	"fmt"
	"strings"

	"parkd/internal/db"
)

// vehicleTypeAliases maps the names clients send onto the space pool they share.
// suv parks in the car pool, motorcycles and scooters in the bike pool.
var vehicleTypeAliases = map[string]db.VehicleType{
	"car":        db.VehicleCar,
	"suv":        db.VehicleCar,
	"bike":       db.VehicleBike,
	"motorcycle": db.VehicleBike,
	"motorbike":  db.VehicleBike,
	"scooter":    db.VehicleBike,
}

// ParseVehicleType resolves a client supplied vehicle type name to the pool it occupies.
func ParseVehicleType(name string) (db.VehicleType, error) {
	vt, ok := vehicleTypeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown vehicle type %q", name)
	}
	return vt, nil
}
