package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketActive TicketStatus = "Active"
	TicketVoided TicketStatus = "Voided"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID            string       `json:"id" bun:"id,pk"`
	HouseID       string       `json:"houseId" bun:"house_id,notnull,unique:uq_house_ticket_number"`
	UserID        string       `json:"userId" bun:"user_id,notnull"`
	TicketNumber  string       `json:"ticketNumber" bun:"ticket_number,notnull,unique:uq_house_ticket_number"`
	PurchasePrice float64      `json:"purchasePrice" bun:"purchase_price,notnull"`
	Status        TicketStatus `json:"status" bun:"status,notnull"`
	PaymentID     string       `json:"paymentId" bun:"payment_id,notnull"`
	BatchIndex    int          `json:"-" bun:"batch_index,notnull"`
	ReservationID string       `json:"reservationId,omitempty" bun:"reservation_id,nullzero"`
	IsWinner      bool         `json:"isWinner" bun:"is_winner,notnull"`
	CreatedAt     time.Time    `json:"createdAt" bun:"created_at,notnull"`
}

func FormatTicketNumber(houseShortID string, sequence int64) string {
	return fmt.Sprintf("%s-%06d", houseShortID, sequence)
}

// CreateTicketsInput describes a paid purchase to be turned into tickets.
type CreateTicketsInput struct {
	HouseID       string
	UserID        string
	Quantity      int
	UnitPrice     float64
	PaymentID     string
	ReservationID string
}

type PurchaseValidation struct {
	Valid           bool   `json:"valid"`
	Reason          string `json:"reason,omitempty"`
	Available       int    `json:"available"`
	IsParticipant   bool   `json:"isParticipant"`
	RemainingSlots  int    `json:"remainingSlots"`
	MaxParticipants int    `json:"maxParticipants"`
}
