package models

import (
	"time"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSuccess   PaymentStatus = "success"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
	StatusCancelled PaymentStatus = "cancelled"
)

// Payment mirrors the record published by the payment gateway. OrderID carries
// the reservation id for ticket purchases.
type Payment struct {
	PaymentID string        `json:"payment_id"`
	OrderID   string        `json:"order_id"`
	Status    PaymentStatus `json:"status"`
	Price     float64       `json:"price"`
	Date      time.Time     `json:"date"`
}

type PaymentEvent struct {
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id"`
	Payment   *Payment  `json:"payment"`
	Timestamp time.Time `json:"timestamp"`
}

type ChargeRequest struct {
	UserID          string
	ReservationID   string
	Amount          float64
	Currency        string
	PaymentMethodID string
	// IdempotencyKey makes a retried charge return the original result.
	IdempotencyKey string
}

type ChargeResult struct {
	Success       bool
	TransactionID string
	Status        PaymentStatus
	Message       string
}

type PromotionValidation struct {
	Valid          bool    `json:"valid"`
	DiscountAmount float64 `json:"discountAmount"`
	ErrorCode      string  `json:"errorCode,omitempty"`
}
