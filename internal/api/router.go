package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"parkd/internal/auth"
	"parkd/internal/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Reservations *service.ReservationService
	Sites        *service.SiteService
	Broadcaster  *service.Broadcaster
	Verifier     *auth.Verifier
	Store        Pinger
	Gatherer     prometheus.Gatherer
	CORSOrigins  []string
	Logger       *zap.Logger
}

// NewRouter wires every route and wraps the mux with recovery, access logging,
// CORS and tracing.
func NewRouter(d RouterDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	userHandler := NewUserReservationHandler(d.Reservations, d.Logger)
	siteHandler := NewSiteHandler(d.Sites, d.Logger)
	streamHandler := NewStreamHandler(d.Broadcaster, d.Sites, d.Logger)

	r := mux.NewRouter()

	// Public endpoints
	r.HandleFunc("/healthz", healthz(d.Store)).Methods(http.MethodGet)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	sites := r.PathPrefix("/api/sites").Subrouter()
	sites.HandleFunc("/nearby", siteHandler.Nearby).Methods(http.MethodGet)
	sites.HandleFunc("/destination", siteHandler.ByDestination).Methods(http.MethodGet)
	sites.HandleFunc("/{id}", siteHandler.GetSite).Methods(http.MethodGet)
	sites.HandleFunc("/{id}/availability", siteHandler.Availability).Methods(http.MethodGet)
	sites.HandleFunc("/{id}/next-available", siteHandler.NextAvailable).Methods(http.MethodGet)
	sites.HandleFunc("/{id}/stream", streamHandler.Stream).Methods(http.MethodGet)

	// Authenticated endpoints
	res := r.PathPrefix("/api/reservations").Subrouter()
	res.Use(d.Verifier.Middleware)
	res.HandleFunc("", userHandler.CreateReservation).Methods(http.MethodPost)
	res.HandleFunc("", userHandler.ListReservations).Methods(http.MethodGet)
	res.HandleFunc("/{id}", userHandler.GetReservation).Methods(http.MethodGet)
	res.HandleFunc("/{id}/start", userHandler.StartReservation).Methods(http.MethodPost)
	res.HandleFunc("/{id}/end", userHandler.EndReservation).Methods(http.MethodPost)
	res.HandleFunc("/{id}/cancel", userHandler.CancelReservation).Methods(http.MethodPost)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(d.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(h)
	h = handlers.CombinedLoggingHandler(zap.NewStdLog(d.Logger.Named("http")).Writer(), h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(d.Logger.Named("panic"))))(h)
	return otelhttp.NewHandler(h, "parkd")
}

func healthz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
