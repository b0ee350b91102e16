package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-reservation-engine/internal/reservation"
	"github.com/hackgods/slot-reservation-engine/internal/slot"
)

type stubService struct {
	reserve      func(reservation.ReserveRequest) (*reservation.Reservation, error)
	cancel       func(uuid.UUID) (*reservation.Reservation, error)
	get          func(uuid.UUID) (*reservation.Reservation, error)
	availability func(uuid.UUID, time.Time) (*reservation.Availability, error)
	stats        func(uuid.UUID) (*reservation.Stats, error)

	lastFilter reservation.Filter
}

func (s *stubService) Reserve(_ context.Context, req reservation.ReserveRequest) (*reservation.Reservation, error) {
	return s.reserve(req)
}

func (s *stubService) Cancel(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return s.cancel(id)
}

func (s *stubService) Confirm(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return nil, fmt.Errorf("load reservation: %w", reservation.ErrReservationNotFound)
}

func (s *stubService) Complete(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return nil, &reservation.SlotError{Kind: reservation.ErrInvalidState, Cause: fmt.Errorf("cannot move from pending to completed")}
}

func (s *stubService) GetReservation(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return s.get(id)
}

func (s *stubService) ListReservations(_ context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	s.lastFilter = f
	return []reservation.Reservation{*sampleReservation()}, nil
}

func (s *stubService) QueryAvailability(_ context.Context, id uuid.UUID, date time.Time) (*reservation.Availability, error) {
	return s.availability(id, date)
}

func (s *stubService) ReservationStats(_ context.Context, id uuid.UUID) (*reservation.Stats, error) {
	return s.stats(id)
}

var (
	testServiceID = uuid.MustParse("8d7a3f0e-3c2b-4f6a-9b1e-2a4c6e8f0a1b")
	testDate      = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
)

func sampleReservation() *reservation.Reservation {
	return &reservation.Reservation{
		ID:           uuid.MustParse("0f8e6c4a-2b1d-4e3f-8a9b-7c6d5e4f3a2b"),
		ServiceID:    testServiceID,
		ServiceDate:  testDate,
		SlotStart:    20,
		SlotSpan:     1,
		RequesterRef: "user-1",
		Status:       reservation.StatusPending,
	}
}

func newTestRouter(svc ReservationService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Env: "test"})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const createBody = `{"service_id":"8d7a3f0e-3c2b-4f6a-9b1e-2a4c6e8f0a1b","date":"2026-10-19","start_time":"10:00","end_time":"10:30","requester_ref":"user-1"}`

func TestCreateReservation(t *testing.T) {
	var got reservation.ReserveRequest
	svc := &stubService{reserve: func(req reservation.ReserveRequest) (*reservation.Reservation, error) {
		got = req
		return sampleReservation(), nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/reservations", createBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, testServiceID, got.ServiceID)
	assert.Equal(t, testDate, got.Date)
	assert.Equal(t, slot.NewTimeOfDay(10, 0), got.Start)
	assert.Equal(t, slot.NewTimeOfDay(10, 30), got.End)
	assert.Equal(t, "user-1", got.RequesterRef)

	resp := decode[ReservationResponse](t, rec)
	assert.Equal(t, "2026-10-19", resp.Date)
	assert.Equal(t, "10:00", resp.StartTime)
	assert.Equal(t, "10:30", resp.EndTime)
	assert.Equal(t, 20, resp.SlotStart)
	assert.Equal(t, "pending", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateReservationBadInput(t *testing.T) {
	svc := &stubService{reserve: func(reservation.ReserveRequest) (*reservation.Reservation, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	h := newTestRouter(svc)

	cases := map[string]string{
		"not json":    `{`,
		"bad service": `{"service_id":"nope","date":"2026-10-19","start_time":"10:00","end_time":"10:30"}`,
		"bad date":    `{"service_id":"8d7a3f0e-3c2b-4f6a-9b1e-2a4c6e8f0a1b","date":"19/10/2026","start_time":"10:00","end_time":"10:30"}`,
		"bad start":   `{"service_id":"8d7a3f0e-3c2b-4f6a-9b1e-2a4c6e8f0a1b","date":"2026-10-19","start_time":"25:00","end_time":"10:30"}`,
		"missing end": `{"service_id":"8d7a3f0e-3c2b-4f6a-9b1e-2a4c6e8f0a1b","date":"2026-10-19","start_time":"10:00"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/reservations", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateReservationErrorMapping(t *testing.T) {
	ref := func(kind error) error {
		return &reservation.SlotError{Kind: kind, ServiceID: testServiceID, Date: testDate, SlotStart: 20, SlotSpan: 1}
	}

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ref(reservation.ErrSlotAlreadyReserved), http.StatusConflict, "slot_already_reserved"},
		{ref(reservation.ErrOutsideOperatingHours), http.StatusConflict, "outside_operating_hours"},
		{ref(reservation.ErrBookingWindow), http.StatusConflict, "booking_window"},
		{ref(reservation.ErrServiceInactive), http.StatusConflict, "service_inactive"},
		{ref(reservation.ErrServiceNotFound), http.StatusNotFound, "service_not_found"},
		{ref(reservation.ErrValidation), http.StatusBadRequest, "validation_error"},
		{ref(reservation.ErrConcurrencyExhausted), http.StatusServiceUnavailable, "concurrency_exhausted"},
		{fmt.Errorf("insert reservation: connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubService{reserve: func(reservation.ReserveRequest) (*reservation.Reservation, error) {
				return nil, tc.err
			}}

			rec := do(t, newTestRouter(svc), http.MethodPost, "/reservations", createBody)

			require.Equal(t, tc.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Details, "connection reset")
				return
			}
			require.NotNil(t, resp.ServiceID)
			assert.Equal(t, testServiceID, *resp.ServiceID)
			assert.Equal(t, "2026-10-19", resp.Date)
			require.NotNil(t, resp.SlotStart)
			assert.Equal(t, 20, *resp.SlotStart)
			assert.Equal(t, 1, *resp.SlotSpan)
		})
	}
}

func TestConcurrencyExhaustedSetsRetryAfter(t *testing.T) {
	svc := &stubService{reserve: func(reservation.ReserveRequest) (*reservation.Reservation, error) {
		return nil, &reservation.SlotError{Kind: reservation.ErrConcurrencyExhausted}
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/reservations", createBody)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestGetReservation(t *testing.T) {
	want := sampleReservation()
	svc := &stubService{get: func(id uuid.UUID) (*reservation.Reservation, error) {
		if id != want.ID {
			return nil, fmt.Errorf("get reservation: %w", reservation.ErrReservationNotFound)
		}
		return want, nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/reservations/"+want.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want.ID, decode[ReservationResponse](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/reservations/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "reservation_not_found", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/reservations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReservationsParsesFilter(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/reservations?service_id="+testServiceID.String()+
		"&requester_ref=user-1&status=confirmed&date_from=2026-10-01&date_to=2026-10-31&limit=500&offset=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f := svc.lastFilter
	require.NotNil(t, f.ServiceID)
	assert.Equal(t, testServiceID, *f.ServiceID)
	assert.Equal(t, "user-1", f.RequesterRef)
	assert.Equal(t, reservation.StatusConfirmed, f.Status)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *f.DateFrom)
	assert.Equal(t, time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC), *f.DateTo)
	assert.Equal(t, 100, f.Limit)
	assert.Equal(t, 10, f.Offset)

	resp := decode[ReservationListResponse](t, rec)
	assert.Len(t, resp.Reservations, 1)
	assert.Equal(t, 100, resp.Limit)

	for _, q := range []string{"status=booked", "limit=0", "offset=-1", "date_from=yesterday", "service_id=x"} {
		rec := do(t, h, http.MethodGet, "/reservations?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestTransitionEndpoints(t *testing.T) {
	canceled := sampleReservation()
	canceled.Status = reservation.StatusCanceled
	svc := &stubService{cancel: func(uuid.UUID) (*reservation.Reservation, error) { return canceled, nil }}
	h := newTestRouter(svc)
	path := "/reservations/" + canceled.ID.String()

	rec := do(t, h, http.MethodPost, path+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", decode[ReservationResponse](t, rec).Status)

	rec = do(t, h, http.MethodPost, path+"/confirm", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, path+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_state", resp.Error)
	assert.Nil(t, resp.ServiceID)
}

func TestAvailability(t *testing.T) {
	open, err := slot.RangeMask(slot.NewTimeOfDay(9, 0), slot.NewTimeOfDay(12, 0))
	require.NoError(t, err)
	taken, err := slot.MaskFor(20, 2)
	require.NoError(t, err)

	svc := &stubService{availability: func(id uuid.UUID, date time.Time) (*reservation.Availability, error) {
		return &reservation.Availability{
			ServiceID: id,
			Date:      date,
			Unit:      slot.UnitFull,
			Active:    true,
			InWindow:  true,
			Open:      open,
			Occupied:  taken,
		}, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/services/"+testServiceID.String()+"/availability?date=2026-10-19", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AvailabilityResponse](t, rec)
	assert.Equal(t, "FULL", resp.Unit)
	assert.True(t, resp.Slots[18])
	assert.False(t, resp.Slots[20])
	assert.False(t, resp.Slots[24])
	require.Len(t, resp.Bookable, 2)
	assert.Equal(t, SlotTime{Index: 18, StartTime: "09:00", EndTime: "10:00"}, resp.Bookable[0])
	assert.Equal(t, SlotTime{Index: 22, StartTime: "11:00", EndTime: "12:00"}, resp.Bookable[1])
}

func TestAvailabilityOutsideWindowHasNoBookableSlots(t *testing.T) {
	open, err := slot.RangeMask(slot.NewTimeOfDay(9, 0), slot.NewTimeOfDay(12, 0))
	require.NoError(t, err)
	svc := &stubService{availability: func(id uuid.UUID, date time.Time) (*reservation.Availability, error) {
		return &reservation.Availability{ServiceID: id, Date: date, Unit: slot.UnitHalf, Active: true, Open: open}, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/services/"+testServiceID.String()+"/availability?date=2026-10-19", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AvailabilityResponse](t, rec)
	assert.False(t, resp.InWindow)
	assert.Empty(t, resp.Bookable)

	rec = do(t, newTestRouter(svc), http.MethodGet, "/services/"+testServiceID.String()+"/availability", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReservationStats(t *testing.T) {
	svc := &stubService{stats: func(id uuid.UUID) (*reservation.Stats, error) {
		if id != testServiceID {
			return nil, &reservation.SlotError{Kind: reservation.ErrServiceNotFound, ServiceID: id}
		}
		return &reservation.Stats{ServiceID: id, Pending: 3, Confirmed: 2, Completed: 4, Canceled: 1}, nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/services/"+testServiceID.String()+"/reservations/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ReservationStatsResponse{
		ServiceID: testServiceID,
		Pending:   3,
		Confirmed: 2,
		Completed: 4,
		Canceled:  1,
		Total:     10,
	}, decode[ReservationStatsResponse](t, rec))

	rec = do(t, h, http.MethodGet, "/services/"+uuid.NewString()+"/reservations/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "service_not_found", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/services/nope/reservations/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
