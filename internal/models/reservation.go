package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID                   string            `json:"id" bun:"id,pk"`
	HouseID              string            `json:"houseId" bun:"house_id,notnull"`
	UserID               string            `json:"userId" bun:"user_id,notnull"`
	Quantity             int               `json:"quantity" bun:"quantity,notnull"`
	TotalPrice           float64           `json:"totalPrice" bun:"total_price,notnull"`
	PromotionCode        string            `json:"promotionCode,omitempty" bun:"promotion_code,nullzero"`
	DiscountAmount       float64           `json:"discountAmount,omitempty" bun:"discount_amount"`
	Status               ReservationStatus `json:"status" bun:"status,notnull"`
	ReservationToken     string            `json:"-" bun:"reservation_token,notnull"`
	PaymentMethodID      string            `json:"-" bun:"payment_method_id,nullzero"`
	ExpiresAt            time.Time         `json:"expiresAt" bun:"expires_at,notnull"`
	ProcessedAt          *time.Time        `json:"processedAt,omitempty" bun:"processed_at,nullzero"`
	PaymentTransactionID string            `json:"paymentTransactionId,omitempty" bun:"payment_transaction_id,nullzero"`
	ErrorMessage         string            `json:"errorMessage,omitempty" bun:"error_message,nullzero"`
	CreatedAt            time.Time         `json:"createdAt" bun:"created_at,notnull"`
	UpdatedAt            time.Time         `json:"updatedAt" bun:"updated_at,notnull"`
}

func (r *Reservation) IsPending() bool {
	return r.Status == ReservationPending
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ReservationRequest is the purchase intent submitted by a user.
type ReservationRequest struct {
	Quantity        int    `json:"quantity" binding:"required,gt=0"`
	PromotionCode   string `json:"promotionCode,omitempty"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

type ReservationPage struct {
	Items []*Reservation `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}
