package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/reservation"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type CreateReservationRequest struct {
	ServiceID    string `json:"service_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	RequesterRef string `json:"requester_ref"`
}

type ReservationResponse struct {
	ID           uuid.UUID `json:"id"`
	ServiceID    uuid.UUID `json:"service_id"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	SlotStart    int       `json:"slot_start"`
	SlotSpan     int       `json:"slot_span"`
	RequesterRef string    `json:"requester_ref"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:           r.ID,
		ServiceID:    r.ServiceID,
		Date:         r.ServiceDate.Format(time.DateOnly),
		StartTime:    r.StartTime().String(),
		EndTime:      r.EndTime().String(),
		SlotStart:    r.SlotStart,
		SlotSpan:     r.SlotSpan,
		RequesterRef: r.RequesterRef,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type ReservationListResponse struct {
	Reservations []ReservationResponse `json:"reservations"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type SlotTime struct {
	Index     int    `json:"index"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AvailabilityResponse struct {
	ServiceID uuid.UUID              `json:"service_id"`
	Date      string                 `json:"date"`
	Unit      string                 `json:"unit"`
	Active    bool                   `json:"active"`
	InWindow  bool                   `json:"in_window"`
	Slots     [slot.SlotsPerDay]bool `json:"slots"`
	Bookable  []SlotTime             `json:"bookable"`
}

func toAvailabilityResponse(av *reservation.Availability) AvailabilityResponse {
	resp := AvailabilityResponse{
		ServiceID: av.ServiceID,
		Date:      av.Date.Format(time.DateOnly),
		Unit:      string(av.Unit),
		Active:    av.Active,
		InWindow:  av.InWindow,
		Slots:     av.Free(),
		Bookable:  []SlotTime{},
	}
	if !av.Active || !av.InWindow {
		return resp
	}
	span := slot.SpanFor(av.Unit)
	for _, i := range av.BookableStarts() {
		resp.Bookable = append(resp.Bookable, SlotTime{
			Index:     i,
			StartTime: slot.TimeOf(i).String(),
			EndTime:   slot.TimeOf(i + span).String(),
		})
	}
	return resp
}

type ReservationStatsResponse struct {
	ServiceID uuid.UUID `json:"service_id"`
	Pending   int       `json:"pending"`
	Confirmed int       `json:"confirmed"`
	Completed int       `json:"completed"`
	Canceled  int       `json:"canceled"`
	Total     int       `json:"total"`
}

type ErrorResponse struct {
	Error     string     `json:"error"`
	Details   string     `json:"details,omitempty"`
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	Date      string     `json:"date,omitempty"`
	SlotStart *int       `json:"slot_start,omitempty"`
	SlotSpan  *int       `json:"slot_span,omitempty"`
}
