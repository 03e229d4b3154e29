package models

import "time"

const (
	EventReservationCreated   = "reservation.created"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
	EventReservationCompleted = "reservation.completed"
	EventTicketsCreated       = "tickets.created"
	EventHouseCountdown       = "house.countdown"
)

type ReservationEvent struct {
	Type           string            `json:"type"`
	ReservationID  string            `json:"reservation_id"`
	HouseID        string            `json:"house_id"`
	UserID         string            `json:"user_id"`
	Quantity       int               `json:"quantity"`
	TotalPrice     float64           `json:"total_price"`
	DiscountAmount float64           `json:"discount_amount,omitempty"`
	Status         ReservationStatus `json:"status"`
	PaymentID      string            `json:"payment_id,omitempty"`
	TicketNumbers  []string          `json:"ticket_numbers,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

type HouseCountdownEvent struct {
	Type      string          `json:"type"`
	HouseID   string          `json:"house_id"`
	Status    InventoryStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// FinalizeMessage is the work-queue body asking for a reservation to be paid
// and turned into tickets.
type FinalizeMessage struct {
	ReservationID string    `json:"reservation_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
