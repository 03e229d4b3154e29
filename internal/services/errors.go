package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation            = errors.New("invalid request")
	ErrHouseNotFound         = errors.New("house not found")
	ErrHouseInactive         = errors.New("house is not active")
	ErrLotteryEnded          = errors.New("lottery has ended")
	ErrLotteryNotStarted     = errors.New("lottery has not started")
	ErrInsufficientInventory = errors.New("not enough tickets available")
	ErrParticipantCapReached = errors.New("participant limit reached")
	ErrVerificationRequired  = errors.New("identity verification required")
	ErrInvalidPromotion      = errors.New("invalid promotion code")
	ErrRateLimited           = errors.New("too many reservation attempts")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationClosed     = errors.New("reservation is no longer pending")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrTransient             = errors.New("temporarily unavailable")
	ErrConsistency           = errors.New("inventory consistency violation")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError tells the caller how long to wait before trying again.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %s exceeded, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

type PromotionError struct {
	Code string
}

func (e *PromotionError) Error() string {
	if e.Code == "" {
		return ErrInvalidPromotion.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPromotion, e.Code)
}

func (e *PromotionError) Unwrap() error { return ErrInvalidPromotion }

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindCapacity     ErrorKind = "capacity"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindTransient    ErrorKind = "transient"
	KindConsistency  ErrorKind = "consistency"
	KindInternal     ErrorKind = "internal"
)

// Kind classifies err for callers that map errors to responses.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPromotion),
		errors.Is(err, ErrHouseInactive), errors.Is(err, ErrLotteryEnded),
		errors.Is(err, ErrLotteryNotStarted), errors.Is(err, ErrPaymentFailed):
		return KindValidation
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ErrParticipantCapReached),
		errors.Is(err, ErrReservationClosed):
		return KindCapacity
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrVerificationRequired):
		return KindUnauthorized
	case errors.Is(err, ErrHouseNotFound), errors.Is(err, ErrReservationNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	default:
		return KindInternal
	}
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
