package storage

import (
	"context"
	"errors"
	"time"

	"lottery-reservation/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ReservationUpdate carries the fields written alongside a status transition.
type ReservationUpdate struct {
	ProcessedAt          time.Time
	PaymentTransactionID string
	ErrorMessage         string
}

// Store is the durable system of record. Methods called with a context
// returned inside RunInTx participate in that transaction.
type Store interface {
	// RunInTx runs fn in a serializable transaction. Nested calls reuse the
	// outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	SaveHouse(ctx context.Context, house *models.House) error
	GetHouse(ctx context.Context, id string) (*models.House, error)
	ListActiveHouses(ctx context.Context, now time.Time) ([]*models.House, error)
	// AllocateTicketSequence reserves n consecutive ticket sequence numbers
	// for a house and returns the first one.
	AllocateTicketSequence(ctx context.Context, houseID string, n int) (int64, error)

	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*models.Reservation, int, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error)
	// TransitionReservation moves a pending reservation to status. It reports
	// false when the reservation was no longer pending.
	TransitionReservation(ctx context.Context, id string, status models.ReservationStatus, update ReservationUpdate) (bool, error)
	ExpireReservations(ctx context.Context, ids []string, now time.Time) (int, error)
	RecordPaymentTransaction(ctx context.Context, id, transactionID string) error
	RecordReservationError(ctx context.Context, id, message string) error
	SumPendingQuantity(ctx context.Context, houseID string) (int, error)

	CreateTickets(ctx context.Context, tickets []*models.Ticket) error
	GetTicketsByPayment(ctx context.Context, paymentID string) ([]*models.Ticket, error)
	CountActiveTickets(ctx context.Context, houseID string) (int, error)
	// IsParticipant reports whether the user holds an Active ticket or a
	// pending reservation for the house.
	IsParticipant(ctx context.Context, houseID, userID string) (bool, error)
	// ListParticipantIDs returns the distinct users holding Active tickets or
	// pending reservations for the house.
	ListParticipantIDs(ctx context.Context, houseID string) ([]string, error)

	SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error

	HealthCheck(ctx context.Context) error
	Close() error
}
