package events

import (
	"encoding/json"
	"sync"
	"time"

	"studyroom/internal/models"
)

const (
	EventBookingCreated    = "booking_created"
	EventBookingCheckedIn  = "booking_checked_in"
	EventBookingCheckedOut = "booking_checked_out"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingTimeout    = "booking_timeout"
	EventBookingViolated   = "booking_violated"
	EventBookingCompleted  = "booking_completed"

	EventOccupancyCreated   = "occupancy_created"
	EventOccupancyUpdated   = "occupancy_updated"
	EventOccupancyCancelled = "occupancy_cancelled"
	EventOccupancyDeleted   = "occupancy_deleted"
)

// AllEventTypes lists every lifecycle event the engine publishes.
var AllEventTypes = []string{
	EventBookingCreated,
	EventBookingCheckedIn,
	EventBookingCheckedOut,
	EventBookingCancelled,
	EventBookingTimeout,
	EventBookingViolated,
	EventBookingCompleted,
	EventOccupancyCreated,
	EventOccupancyUpdated,
	EventOccupancyCancelled,
	EventOccupancyDeleted,
}

// BookingEventPayload describes the booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID  int64     `json:"booking_id"`
	UserID     int64     `json:"user_id"`
	SeatID     int64     `json:"seat_id"`
	Date       string    `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	FromStatus string    `json:"from_status,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
	Source     string    `json:"source"` // user or reconciler
}

type OccupancyEventPayload struct {
	OccupancyID int64     `json:"occupancy_id"`
	ClassroomID int64     `json:"classroom_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// BookingEventFor maps the status a booking moved to onto its event type.
func BookingEventFor(status string) string {
	switch status {
	case models.StatusPending:
		return EventBookingCreated
	case models.StatusActive:
		return EventBookingCheckedIn
	case models.StatusCompleted:
		return EventBookingCompleted
	case models.StatusCancelled:
		return EventBookingCancelled
	case models.StatusTimeout:
		return EventBookingTimeout
	case models.StatusViolated:
		return EventBookingViolated
	default:
		return ""
	}
}

func NewBookingPayload(b *models.Booking, from, source string, at time.Time) BookingEventPayload {
	return BookingEventPayload{
		BookingID:  b.ID,
		UserID:     b.UserID,
		SeatID:     b.SeatID,
		Date:       b.Date.String(),
		StartTime:  b.StartTime.String(),
		EndTime:    b.EndTime.String(),
		FromStatus: from,
		Status:     b.Status,
		At:         at,
		Source:     source,
	}
}

func NewOccupancyPayload(o *models.ClassroomOccupancy, at time.Time) OccupancyEventPayload {
	return OccupancyEventPayload{
		OccupancyID: o.ID,
		ClassroomID: o.ClassroomID,
		Date:        o.Date.String(),
		StartTime:   o.StartTime.String(),
		EndTime:     o.EndTime.String(),
		Type:        o.Type,
		Status:      o.Status,
		At:          at,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every type in AllEventTypes.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range AllEventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously and must not block.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
