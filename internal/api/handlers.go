package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"studyroom/internal/logging"
	"studyroom/internal/models"
	"studyroom/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type AvailabilityService interface {
	IsSeatFree(ctx context.Context, seatID int64, date models.Date, start, end models.TimeOfDay) (bool, error)
	ListAvailableSeats(ctx context.Context, scope service.Scope, date models.Date, start, end models.TimeOfDay) ([]*models.Seat, error)
	ClassroomSeatsWithStatus(ctx context.Context, classroomID int64, window *models.Window) ([]models.SeatStatus, error)
}

type BookingService interface {
	Create(ctx context.Context, userID, seatID int64, date models.Date, start, end models.TimeOfDay) (*models.Booking, error)
	CheckIn(ctx context.Context, bookingID, userID int64) (*models.Booking, error)
	CheckOut(ctx context.Context, bookingID, userID int64) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, userID int64) (*models.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]*models.BookingSummary, error)
	GetBookingSummary(ctx context.Context, bookingID, userID int64) (*models.BookingSummary, error)
}

type OccupancyService interface {
	Create(ctx context.Context, req models.OccupancyRequest) (*models.ClassroomOccupancy, error)
	Update(ctx context.Context, id int64, req models.OccupancyRequest) (*models.ClassroomOccupancy, error)
	Cancel(ctx context.Context, id int64) (*models.ClassroomOccupancy, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*models.ClassroomOccupancy, error)
	ListByClassroom(ctx context.Context, classroomID int64, date models.Date) ([]*models.ClassroomOccupancy, error)
	ListByBuilding(ctx context.Context, buildingID int64, date models.Date) ([]*models.ClassroomOccupancy, error)
	ListByDateRange(ctx context.Context, from, to models.Date) ([]*models.ClassroomOccupancy, error)
}

// Handler translates HTTP requests into service calls. It holds no
// business rules.
type Handler struct {
	availability AvailabilityService
	bookings     BookingService
	occupancy    OccupancyService
	userHeader   string
	jwtSecret    []byte
	logger       *zerolog.Logger
}

func NewHandler(availability AvailabilityService, bookings BookingService, occupancy OccupancyService, logger *zerolog.Logger) *Handler {
	return &Handler{
		availability: availability,
		bookings:     bookings,
		occupancy:    occupancy,
		userHeader:   userIDHeaderDefault,
		logger:       logging.Component(logger, "handler"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SeatAvailability(w http.ResponseWriter, r *http.Request) {
	seatID, ok := pathID(w, r)
	if !ok {
		return
	}
	window, ok := requiredWindow(w, r)
	if !ok {
		return
	}

	free, err := h.availability.IsSeatFree(r.Context(), seatID, window.Date, window.Start, window.End)
	if err != nil {
		writeServiceError(w, r, h.logger, "seat_availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seat_id":    seatID,
		"date":       window.Date,
		"start_time": window.Start,
		"end_time":   window.End,
		"available":  free,
	})
}

func (h *Handler) ClassroomSeats(w http.ResponseWriter, r *http.Request) {
	classroomID, ok := pathID(w, r)
	if !ok {
		return
	}

	var window *models.Window
	q := r.URL.Query()
	if q.Get("date") != "" || q.Get("start") != "" || q.Get("end") != "" {
		wnd, ok := requiredWindow(w, r)
		if !ok {
			return
		}
		window = &wnd
	}

	seats, err := h.availability.ClassroomSeatsWithStatus(r.Context(), classroomID, window)
	if err != nil {
		writeServiceError(w, r, h.logger, "classroom_seats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seats": seats})
}

func (h *Handler) ClassroomAvailableSeats(w http.ResponseWriter, r *http.Request) {
	classroomID, ok := pathID(w, r)
	if !ok {
		return
	}
	h.availableSeats(w, r, service.Scope{ClassroomID: classroomID})
}

func (h *Handler) BuildingAvailableSeats(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r)
	if !ok {
		return
	}
	h.availableSeats(w, r, service.Scope{BuildingID: buildingID})
}

func (h *Handler) availableSeats(w http.ResponseWriter, r *http.Request, scope service.Scope) {
	window, ok := requiredWindow(w, r)
	if !ok {
		return
	}
	seats, err := h.availability.ListAvailableSeats(r.Context(), scope, window.Date, window.Start, window.End)
	if err != nil {
		writeServiceError(w, r, h.logger, "available_seats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seats": seats})
}

type createBookingRequest struct {
	SeatID    int64            `json:"seat_id"`
	Date      models.Date      `json:"date"`
	StartTime models.TimeOfDay `json:"start_time"`
	EndTime   models.TimeOfDay `json:"end_time"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body createBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SeatID <= 0 || body.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "seat_id and date are required")
		return
	}

	booking, err := h.bookings.Create(r.Context(), userID, body.SeatID, body.Date, body.StartTime, body.EndTime)
	if err != nil {
		writeServiceError(w, r, h.logger, "create_booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	list, err := h.bookings.ListUserBookings(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list_bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.bookings.GetBookingSummary(r.Context(), bookingID, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get_booking", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, "check_in", h.bookings.CheckIn)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, "check_out", h.bookings.CheckOut)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, "cancel_booking", h.bookings.Cancel)
}

func (h *Handler) bookingAction(
	w http.ResponseWriter, r *http.Request, op string,
	action func(ctx context.Context, bookingID, userID int64) (*models.Booking, error),
) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := action(r.Context(), bookingID, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) CreateOccupancy(w http.ResponseWriter, r *http.Request) {
	var body models.OccupancyRequest
	if !decodeBody(w, r, &body) {
		return
	}
	o, err := h.occupancy.Create(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, h.logger, "create_occupancy", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) UpdateOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body models.OccupancyRequest
	if !decodeBody(w, r, &body) {
		return
	}
	o, err := h.occupancy.Update(r.Context(), id, body)
	if err != nil {
		writeServiceError(w, r, h.logger, "update_occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) CancelOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.occupancy.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel_occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) DeleteOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.occupancy.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete_occupancy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.occupancy.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get_occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) ListOccupancies(w http.ResponseWriter, r *http.Request) {
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}
	list, err := h.occupancy.ListByDateRange(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, "list_occupancies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occupancies": list})
}

func (h *Handler) ClassroomOccupancies(w http.ResponseWriter, r *http.Request) {
	h.occupanciesOn(w, r, "classroom_occupancies", h.occupancy.ListByClassroom)
}

func (h *Handler) BuildingOccupancies(w http.ResponseWriter, r *http.Request) {
	h.occupanciesOn(w, r, "building_occupancies", h.occupancy.ListByBuilding)
}

func (h *Handler) occupanciesOn(
	w http.ResponseWriter, r *http.Request, op string,
	list func(ctx context.Context, id int64, date models.Date) ([]*models.ClassroomOccupancy, error),
) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}
	out, err := list(r.Context(), id, date)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occupancies": out})
}

// callerID identifies the user making the request, from a bearer token
// when a signing secret is configured and from the gateway header otherwise.
func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if len(h.jwtSecret) > 0 {
		id, err := bearerSubject(r, h.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return 0, false
		}
		return id, true
	}

	raw := strings.TrimSpace(r.Header.Get(h.userHeader))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("missing %s header", h.userHeader))
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid %s header", h.userHeader))
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryDate(w http.ResponseWriter, r *http.Request, name string) (models.Date, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return models.Date{}, false
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return models.Date{}, false
	}
	return d, true
}

func queryTime(w http.ResponseWriter, r *http.Request, name string) (models.TimeOfDay, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return 0, false
	}
	t, err := models.ParseTimeOfDay(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return t, true
}

func requiredWindow(w http.ResponseWriter, r *http.Request) (models.Window, bool) {
	date, ok := queryDate(w, r, "date")
	if !ok {
		return models.Window{}, false
	}
	start, ok := queryTime(w, r, "start")
	if !ok {
		return models.Window{}, false
	}
	end, ok := queryTime(w, r, "end")
	if !ok {
		return models.Window{}, false
	}
	return models.Window{Date: date, Start: start, End: end}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
