package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type HouseStatus string

const (
	HouseStatusActive   HouseStatus = "active"
	HouseStatusInactive HouseStatus = "inactive"
	HouseStatusDrawn    HouseStatus = "drawn"
)

// House is the lottery prize whose tickets are sold. Only the fields the
// reservation path needs are mapped here.
type House struct {
	bun.BaseModel `bun:"table:houses"`

	ID               string      `json:"id" bun:"id,pk"`
	Title            string      `json:"title" bun:"title"`
	TotalTickets     int         `json:"totalTickets" bun:"total_tickets,notnull"`
	TicketPrice      float64     `json:"ticketPrice" bun:"ticket_price,notnull"`
	MaxParticipants  int         `json:"maxParticipants" bun:"max_participants,notnull"`
	Status           HouseStatus `json:"status" bun:"status,notnull"`
	LotteryStartDate time.Time   `json:"lotteryStartDate" bun:"lottery_start_date,notnull"`
	LotteryEndDate   time.Time   `json:"lotteryEndDate" bun:"lottery_end_date,notnull"`
	TicketSequence   int64       `json:"-" bun:"ticket_sequence,notnull"`
	CreatedAt        time.Time   `json:"createdAt" bun:"created_at,notnull"`
}

func (h *House) IsActive() bool {
	return h.Status == HouseStatusActive
}

func (h *House) HasEnded(now time.Time) bool {
	return !now.Before(h.LotteryEndDate)
}

func (h *House) HasStarted(now time.Time) bool {
	return h.LotteryStartDate.IsZero() || !now.Before(h.LotteryStartDate)
}

func (h *House) HasParticipantCap() bool {
	return h.MaxParticipants > 0
}

// ShortID is the ticket number prefix: the first 8 characters of the id,
// upper-cased with dashes removed. Prefixes may repeat across houses, so
// ticket numbers are only unique within a house.
func (h *House) ShortID() string {
	id := strings.ToUpper(strings.ReplaceAll(h.ID, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
