package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperr "parkd/internal/errors"
	"parkd/internal/service"
)

type SiteHandler struct {
	Service *service.SiteService
	Logger  *zap.Logger
}

func NewSiteHandler(svc *service.SiteService, logger *zap.Logger) *SiteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SiteHandler{Service: svc, Logger: logger}
}

func (h *SiteHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.Service.GetSite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (h *SiteHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lng") == "" {
		writeError(w, r, h.Logger, apperr.ErrBadRequest("Latitude and longitude are required"))
		return
	}
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, r, h.Logger, apperr.ErrBadRequest("Latitude and longitude must be numbers"))
		return
	}
	radius, ok := parseRadius(q.Get("radius"))
	if !ok {
		writeError(w, r, h.Logger, apperr.ErrBadRequest("radius must be a number"))
		return
	}
	sites, err := h.Service.ListNearby(r.Context(), lat, lng, radius)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (h *SiteHandler) ByDestination(w http.ResponseWriter, r *http.Request) {
	radius, ok := parseRadius(r.URL.Query().Get("radius"))
	if !ok {
		writeError(w, r, h.Logger, apperr.ErrBadRequest("radius must be a number"))
		return
	}
	res, err := h.Service.ListByDestination(r.Context(), r.URL.Query().Get("address"), radius)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SiteHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Service.CheckAvailability(r.Context(), mux.Vars(r)["id"], q.Get("vehicle_type"), q.Get("at"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SiteHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Service.NextAvailable(r.Context(), mux.Vars(r)["id"], q.Get("vehicle_type"), q.Get("from"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseRadius accepts an empty value, which means the service default.
func parseRadius(v string) (float64, bool) {
	if v == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}
