package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/models"
)

func newTestReservation(id, houseID, userID string, qty int, expiresAt time.Time) *models.Reservation {
	return &models.Reservation{
		ID:               id,
		HouseID:          houseID,
		UserID:           userID,
		Quantity:         qty,
		Status:           models.ReservationPending,
		ReservationToken: "tok-" + id,
		ExpiresAt:        expiresAt,
		CreatedAt:        expiresAt.Add(-15 * time.Minute),
		UpdatedAt:        expiresAt.Add(-15 * time.Minute),
	}
}

func TestInMemoryStore_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, store.CreateReservation(txCtx, newTestReservation("r1", "h1", "u1", 2, now.Add(time.Minute))))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_TransitionOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, store.CreateReservation(ctx, newTestReservation("r1", "h1", "u1", 2, now.Add(time.Minute))))

	ok, err := store.TransitionReservation(ctx, "r1", models.ReservationCancelled, ReservationUpdate{ProcessedAt: now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionReservation(ctx, "r1", models.ReservationCompleted, ReservationUpdate{ProcessedAt: now})
	require.NoError(t, err)
	assert.False(t, ok, "non-pending reservations are immutable")

	r, err := store.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, r.Status)
}

func TestInMemoryStore_ParticipantsAndPendingSums(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateReservation(ctx, newTestReservation("r1", "h1", "u1", 2, now.Add(time.Minute))))
	require.NoError(t, store.CreateReservation(ctx, newTestReservation("r2", "h1", "u2", 3, now.Add(-time.Minute))))
	require.NoError(t, store.CreateTickets(ctx, []*models.Ticket{
		{ID: "t1", HouseID: "h1", UserID: "u3", TicketNumber: "H1-000001", Status: models.TicketActive, PaymentID: "p1"},
		{ID: "t2", HouseID: "h1", UserID: "u1", TicketNumber: "H1-000002", Status: models.TicketActive, PaymentID: "p2"},
	}))

	sum, err := store.SumPendingQuantity(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	ids, err := store.ListParticipantIDs(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids)

	expired, err := store.ListExpiredReservations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "r2", expired[0].ID)

	n, err := store.ExpireReservations(ctx, []string{"r2", "missing"}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryStore_TicketDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := []*models.Ticket{{ID: "t1", HouseID: "h1", UserID: "u1", TicketNumber: "H1-000001", Status: models.TicketActive, PaymentID: "p1", BatchIndex: 0}}
	require.NoError(t, store.CreateTickets(ctx, first))

	dup := []*models.Ticket{{ID: "t2", HouseID: "h1", UserID: "u1", TicketNumber: "H1-000002", Status: models.TicketActive, PaymentID: "p1", BatchIndex: 0}}
	assert.ErrorIs(t, store.CreateTickets(ctx, dup), ErrDuplicate)

	sameNumber := []*models.Ticket{{ID: "t3", HouseID: "h1", UserID: "u2", TicketNumber: "H1-000001", Status: models.TicketActive, PaymentID: "p2", BatchIndex: 0}}
	assert.ErrorIs(t, store.CreateTickets(ctx, sameNumber), ErrDuplicate)

	otherHouse := []*models.Ticket{{ID: "t4", HouseID: "h1-b", UserID: "u2", TicketNumber: "H1-000001", Status: models.TicketActive, PaymentID: "p3", BatchIndex: 0}}
	assert.NoError(t, store.CreateTickets(ctx, otherHouse))
}

func TestInMemoryStore_AllocateTicketSequence(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.SaveHouse(ctx, &models.House{ID: "h1", TotalTickets: 10, Status: models.HouseStatusActive}))

	start, err := store.AllocateTicketSequence(ctx, "h1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start)

	start, err = store.AllocateTicketSequence(ctx, "h1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), start)

	_, err = store.AllocateTicketSequence(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
