package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"parkd/internal/auth"
	"parkd/internal/entities"
	apperr "parkd/internal/errors"
	"parkd/internal/service"
)

type UserReservationHandler struct {
	Service *service.ReservationService
	Logger  *zap.Logger
}

func NewUserReservationHandler(svc *service.ReservationService, logger *zap.Logger) *UserReservationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserReservationHandler{Service: svc, Logger: logger}
}

func (h *UserReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req entities.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.Logger, apperr.ErrBadRequest("Invalid request"))
		return
	}
	res, err := h.Service.Create(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *UserReservationHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *UserReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Get(r.Context(), mux.Vars(r)["id"], auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *UserReservationHandler) StartReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Start(r.Context(), mux.Vars(r)["id"], auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *UserReservationHandler) EndReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.End(r.Context(), mux.Vars(r)["id"], auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *UserReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Cancel(r.Context(), mux.Vars(r)["id"], auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Reservation cancelled",
		"reservation": res,
	})
}
