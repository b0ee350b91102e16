package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/reservation"
	"github.com/hackgods/slot-reservation-engine/internal/schedule"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

func createReservationHandler(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "service_id must be a valid UUID")
			return
		}
		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}
		start, err := slot.ParseTimeOfDay(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "start_time must be HH:mm")
			return
		}
		end, err := slot.ParseTimeOfDay(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "end_time must be HH:mm")
			return
		}

		res, err := svc.Reserve(r.Context(), reservation.ReserveRequest{
			ServiceID:    serviceID,
			Date:         date,
			Start:        start,
			End:          end,
			RequesterRef: req.RequesterRef,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReservationResponse(res))
	}
}

func getReservationHandler(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		res, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func listReservationsHandler(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}

		list, err := svc.ListReservations(r.Context(), f)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := ReservationListResponse{
			Reservations: make([]ReservationResponse, 0, len(list)),
			Limit:        f.Limit,
			Offset:       f.Offset,
		}
		for i := range list {
			resp.Reservations = append(resp.Reservations, toReservationResponse(&list[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// transitionHandler serves the cancel, confirm and complete endpoints, which differ
// only in the allocator method they call.
func transitionHandler(fn func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		res, err := fn(r, id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func availabilityHandler(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "id must be a valid UUID")
			return
		}
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}

		av, err := svc.QueryAvailability(r.Context(), serviceID, date)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
	}
}

func reservationStatsHandler(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "id must be a valid UUID")
			return
		}

		stats, err := svc.ReservationStats(r.Context(), serviceID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, ReservationStatsResponse{
			ServiceID: stats.ServiceID,
			Pending:   stats.Pending,
			Confirmed: stats.Confirmed,
			Completed: stats.Completed,
			Canceled:  stats.Canceled,
			Total:     stats.Total(),
		})
	}
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (reservation.Filter, error) {
	q := r.URL.Query()
	var f reservation.Filter

	if v := q.Get("service_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("service_id must be a valid UUID")
		}
		f.ServiceID = &id
	}
	f.RequesterRef = q.Get("requester_ref")
	if v := q.Get("status"); v != "" {
		st, err := reservation.ParseStatus(v)
		if err != nil {
			return f, errors.New("status must be one of pending, confirmed, completed, canceled")
		}
		f.Status = st
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"date_from", &f.DateFrom}, {"date_to", &f.DateTo}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		d, err := schedule.ParseDate(v)
		if err != nil {
			return f, errors.New(p.key + " must be YYYY-MM-DD")
		}
		*p.dst = &d
	}

	f.Limit = 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, 100)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, reservation.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, reservation.ErrServiceNotFound):
		status, code = http.StatusNotFound, "service_not_found"
	case errors.Is(err, reservation.ErrReservationNotFound):
		status, code = http.StatusNotFound, "reservation_not_found"
	case errors.Is(err, reservation.ErrSlotAlreadyReserved):
		status, code = http.StatusConflict, "slot_already_reserved"
	case errors.Is(err, reservation.ErrOutsideOperatingHours):
		status, code = http.StatusConflict, "outside_operating_hours"
	case errors.Is(err, reservation.ErrBookingWindow):
		status, code = http.StatusConflict, "booking_window"
	case errors.Is(err, reservation.ErrServiceInactive):
		status, code = http.StatusConflict, "service_inactive"
	case errors.Is(err, reservation.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, reservation.ErrConcurrencyExhausted):
		status, code = http.StatusServiceUnavailable, "concurrency_exhausted"
		w.Header().Set("Retry-After", "1")
	}

	resp := ErrorResponse{Error: code, Details: err.Error()}
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp.Details = "internal server error"
	}

	var se *reservation.SlotError
	if errors.As(err, &se) && se.ServiceID != uuid.Nil {
		id := se.ServiceID
		resp.ServiceID = &id
		if !se.Date.IsZero() {
			resp.Date = se.Date.Format(time.DateOnly)
		}
		if se.SlotSpan > 0 {
			start, span := se.SlotStart, se.SlotSpan
			resp.SlotStart, resp.SlotSpan = &start, &span
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
