package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parkd/internal/entities"
)

// Metrics exposes capacity and lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	available         *prometheus.GaugeVec
	occupied          *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	sweepRuns         prometheus.Counter
	sweepExpired      prometheus.Counter
	sweepFailures     prometheus.Counter
	broadcastFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		available: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parkd",
			Name:      "available_spots",
			Help:      "Free spots per site and vehicle type at the last published snapshot.",
		}, []string{"site", "vehicle_type"}),
		occupied: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parkd",
			Name:      "occupied_spots",
			Help:      "Occupied spots per site, vehicle type and reservation state.",
		}, []string{"site", "vehicle_type", "state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "reservation_transitions_total",
			Help:      "Reservation lifecycle transitions by resulting status.",
		}, []string{"status"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "reservation_rejections_total",
			Help:      "Rejected lifecycle operations by failure kind.",
		}, []string{"kind"}),
		sweepRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeper runs.",
		}),
		sweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "sweep_expired_total",
			Help:      "Pending reservations cancelled by the expiry sweeper.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "sweep_failures_total",
			Help:      "Per-reservation failures during expiry sweeps.",
		}),
		broadcastFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parkd",
			Name:      "broadcast_failures_total",
			Help:      "Availability updates the transport failed to publish.",
		}),
	}
}

func (m *Metrics) observeSnapshot(s entities.OccupancySnapshot) {
	if m == nil {
		return
	}
	m.available.WithLabelValues(s.SiteID, s.VehicleType).Set(float64(s.AvailableSpots))
	m.occupied.WithLabelValues(s.SiteID, s.VehicleType, "active").Set(float64(s.OccupiedActive))
	m.occupied.WithLabelValues(s.SiteID, s.VehicleType, "pending").Set(float64(s.OccupiedPending))
}

func (m *Metrics) transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) rejected(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) sweep(expired, failed int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepExpired.Add(float64(expired))
	m.sweepFailures.Add(float64(failed))
}

func (m *Metrics) broadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}
