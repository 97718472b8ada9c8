package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkd/internal/db"
)

func demoSite(name, address string, lat, lng float64, car, bike db.Rate) db.Site {
	return db.Site{
		Name:       name,
		Address:    address,
		Latitude:   lat,
		Longitude:  lng,
		TotalSpots: map[db.VehicleType]int{db.VehicleCar: 1, db.VehicleBike: 1},
		Rates:      map[db.VehicleType]db.Rate{db.VehicleCar: car, db.VehicleBike: bike},
	}
}

// DemoSites are small Chennai lots with one spot per vehicle type, which makes
// the last-spot rules easy to exercise by hand.
var DemoSites = []db.Site{
	demoSite("T Nagar Parking Complex", "Pondy Bazaar, T Nagar, Chennai", 13.0417, 80.2338,
		db.Rate{FirstHour: 50, AdditionalHour: 30, DailyCap: 300}, db.Rate{FirstHour: 20, AdditionalHour: 10, DailyCap: 100}),
	demoSite("Marina Beach Parking", "Marina Beach Road, Chennai", 13.0557, 80.2830,
		db.Rate{FirstHour: 60, AdditionalHour: 40, DailyCap: 350}, db.Rate{FirstHour: 30, AdditionalHour: 15, DailyCap: 150}),
	demoSite("Phoenix MarketCity Parking", "Velachery Main Road, Velachery, Chennai", 12.9918, 80.2183,
		db.Rate{FirstHour: 30, AdditionalHour: 20, DailyCap: 250}, db.Rate{FirstHour: 15, AdditionalHour: 10, DailyCap: 120}),
	demoSite("Central Railway Station Parking", "Chennai Central, Chennai", 13.0831, 80.2765,
		db.Rate{FirstHour: 40, AdditionalHour: 25, DailyCap: 280}, db.Rate{FirstHour: 20, AdditionalHour: 10, DailyCap: 120}),
	demoSite("Anna Nagar Tower Parking", "Anna Nagar, Chennai", 13.0850, 80.2101,
		db.Rate{FirstHour: 35, AdditionalHour: 20, DailyCap: 240}, db.Rate{FirstHour: 15, AdditionalHour: 10, DailyCap: 100}),
}

// SeedDemoSites inserts DemoSites unless the store already has sites. It
// returns the number of sites inserted.
func SeedDemoSites(ctx context.Context, store Store, clock Clock, logger *zap.Logger) (int, error) {
	existing, err := store.ListSites(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sites: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("sites already seeded", zap.Int("count", len(existing)))
		return 0, nil
	}
	now := clock.Now()
	for _, site := range DemoSites {
		site.ID = uuid.NewString()
		site.CreatedAt = now
		if err := store.InsertSite(ctx, &site); err != nil {
			return 0, fmt.Errorf("inserting site %q: %w", site.Name, err)
		}
	}
	logger.Info("seeded demo sites", zap.Int("count", len(DemoSites)))
	return len(DemoSites), nil
}
