package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/models"
)

func TestCreateTicketsFromPayment(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 5, 0)
	tickets := NewTicketService(env.store, env.fast, env.log)
	ctx := context.Background()

	in := models.CreateTicketsInput{HouseID: "h1", UserID: "u1", Quantity: 3, UnitPrice: 5, PaymentID: "pay_1"}
	first, err := tickets.CreateTicketsFromPayment(ctx, in)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, ticket := range first {
		assert.Equal(t, i, ticket.BatchIndex)
		assert.Equal(t, models.TicketActive, ticket.Status)
	}
	assert.Equal(t, "H1-000003", first[2].TicketNumber)

	again, err := tickets.CreateTicketsFromPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, again[0].ID)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u2", Quantity: 3, PaymentID: "pay_2"})
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u2", Quantity: 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateTicketsFromPayment_HousesSharingPrefix(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "demo-house-0001", 10, 0)
	env.addHouse(t, "demo-house-0002", 10, 0)
	tickets := NewTicketService(env.store, env.fast, env.log)
	ctx := context.Background()

	first, err := tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "demo-house-0001", UserID: "u1", Quantity: 1, UnitPrice: 5, PaymentID: "pay_1"})
	require.NoError(t, err)
	second, err := tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "demo-house-0002", UserID: "u1", Quantity: 1, UnitPrice: 5, PaymentID: "pay_2"})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "DEMOHOUS-000001", first[0].TicketNumber)
	assert.Equal(t, "DEMOHOUS-000001", second[0].TicketNumber)
	assert.Equal(t, "demo-house-0002", second[0].HouseID)
}

func TestCreateTicketsFromPayment_RespectsPendingHolds(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	tickets := NewTicketService(env.store, env.fast, env.log)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 8}, "h1", "u1")
	require.NoError(t, err)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u2", Quantity: 5, UnitPrice: 5, PaymentID: "pay_direct"})
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	direct, err := tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u2", Quantity: 2, UnitPrice: 5, PaymentID: "pay_direct"})
	require.NoError(t, err)
	assert.Len(t, direct, 2)

	completed, err := env.reservations.CompleteReservation(ctx, r.ID, "pay_held")
	require.NoError(t, err, "the held quantity stays available to its own reservation")
	assert.Len(t, completed, 8)

	sold, err := env.store.CountActiveTickets(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 10, sold)
}

func TestCreateTicketsFromPayment_OwnReservationNotCountedTwice(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	tickets := NewTicketService(env.store, env.fast, env.log)
	ctx := context.Background()

	mine, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 6}, "h1", "u1")
	require.NoError(t, err)
	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 4}, "h1", "u2")
	require.NoError(t, err)

	issued, err := tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{
		HouseID: "h1", UserID: "u1", Quantity: 6, UnitPrice: 5, PaymentID: "pay_mine", ReservationID: mine.ID,
	})
	require.NoError(t, err)
	assert.Len(t, issued, 6)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{
		HouseID: "h1", UserID: "u3", Quantity: 1, UnitPrice: 5, PaymentID: "pay_extra", ReservationID: "unknown",
	})
	assert.ErrorIs(t, err, ErrInsufficientInventory, "the other pending hold still covers the rest")
}

func TestCreateTicketsFromPayment_ConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	tickets := NewTicketService(env.store, env.fast, env.log)
	in := models.CreateTicketsInput{HouseID: "h1", UserID: "u1", Quantity: 2, UnitPrice: 5, PaymentID: "pay_1"}

	var wg sync.WaitGroup
	results := make([][]*models.Ticket, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tickets.CreateTicketsFromPayment(context.Background(), in)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.Len(t, res, 2)
		assert.Equal(t, results[0][0].ID, res[0].ID)
	}
	count, err := env.store.CountActiveTickets(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCreateTicketsFromPayment_ParticipantCap(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 1)
	tickets := NewTicketService(env.store, env.fast, env.log)
	ctx := context.Background()

	_, err := tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u1", Quantity: 1, PaymentID: "p1"})
	require.NoError(t, err)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u2", Quantity: 1, PaymentID: "p2"})
	assert.ErrorIs(t, err, ErrParticipantCapReached)

	_, err = tickets.CreateTicketsFromPayment(ctx, models.CreateTicketsInput{HouseID: "h1", UserID: "u1", Quantity: 1, PaymentID: "p3"})
	assert.NoError(t, err)
}

func TestValidatePurchase(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 4, 1)
	tickets := NewTicketService(env.store, env.fast, env.log)
	tickets.now = env.reservations.now
	ctx := context.Background()

	v, err := tickets.ValidatePurchase(ctx, "h1", "u1", 2)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 4, v.Available)
	assert.Equal(t, 1, v.RemainingSlots)

	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	require.NoError(t, err)

	v, err = tickets.ValidatePurchase(ctx, "h1", "u2", 1)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ErrParticipantCapReached.Error(), v.Reason)

	v, err = tickets.ValidatePurchase(ctx, "h1", "u1", 4)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.True(t, v.IsParticipant)
	assert.Equal(t, ErrInsufficientInventory.Error(), v.Reason)

	assert.Equal(t, 3, env.counters(t, "h1").Available, "validation reserves nothing")

	_, err = tickets.ValidatePurchase(ctx, "missing", "u1", 1)
	assert.ErrorIs(t, err, ErrHouseNotFound)
}
