package services

import (
	"context"
	"time"

	"lottery-reservation/internal/models"
)

// FastInventory is the Redis-backed counter store consulted on every
// reservation.
type FastInventory interface {
	Reserve(ctx context.Context, houseID string, qty int, token string) (bool, error)
	Release(ctx context.Context, houseID string, qty int, token string) (bool, error)
	Commit(ctx context.Context, houseID string, qty int, token string) (bool, error)
	GetAvailable(ctx context.Context, houseID string) (int, error)
	Counters(ctx context.Context, houseID string) (models.InventorySnapshot, error)
	GetStatus(ctx context.Context, house *models.House, now time.Time) (*models.InventoryStatus, error)
	CheckParticipantCap(ctx context.Context, houseID, userID string, max int) (bool, error)
	AddParticipant(ctx context.Context, houseID, userID string, max int) (ok, added bool, err error)
	RemoveParticipant(ctx context.Context, houseID, userID string) (bool, error)
	ParticipantCount(ctx context.Context, houseID string) (int, error)
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int) (bool, time.Duration, error)
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) error
}

type IdentityVerifier interface {
	CheckVerified(ctx context.Context, userID string) (bool, error)
}

// PromotionPricer validates promotion codes and records their use. Discount
// computation lives in the promotion service.
type PromotionPricer interface {
	Validate(ctx context.Context, code, userID, houseID string, amount float64) (*models.PromotionValidation, error)
	Apply(ctx context.Context, code, userID, reservationID string, discount float64) error
}

type PaymentGateway interface {
	Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error)
}

type EventPublisher interface {
	PublishReservationEvent(event *models.ReservationEvent) error
}

// FinalizeQueue receives the reservations that still need to be charged.
type FinalizeQueue interface {
	Send(ctx context.Context, body []byte) (string, error)
}

// NoPromotions rejects every code. It is used when no promotion service is
// configured.
type NoPromotions struct{}

func (NoPromotions) Validate(ctx context.Context, code, userID, houseID string, amount float64) (*models.PromotionValidation, error) {
	return &models.PromotionValidation{Valid: false, ErrorCode: "PROMOTIONS_DISABLED"}, nil
}

func (NoPromotions) Apply(ctx context.Context, code, userID, reservationID string, discount float64) error {
	return nil
}
