package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuditKind string

const (
	AuditPromotionUsageFailed AuditKind = "promotion_usage_failed"
	AuditBookkeepingFailed    AuditKind = "bookkeeping_failed"
	AuditManualReview         AuditKind = "manual_review"
)

// AuditRecord captures work that needs a human, usually money that moved
// without the matching bookkeeping.
type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_records"`

	ID            string    `json:"id" bun:"id,pk"`
	Kind          AuditKind `json:"kind" bun:"kind,notnull"`
	ReservationID string    `json:"reservationId" bun:"reservation_id,nullzero"`
	PaymentID     string    `json:"paymentId,omitempty" bun:"payment_id,nullzero"`
	Detail        string    `json:"detail" bun:"detail"`
	CreatedAt     time.Time `json:"createdAt" bun:"created_at,notnull"`
}
