package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/models"
)

func TestCreateReservation_HoldsTickets(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 20, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 3, PaymentMethodID: "pm_card"}, "h1", "u1")
	require.NoError(t, err)

	assert.Equal(t, models.ReservationPending, r.Status)
	assert.Equal(t, 15.0, r.TotalPrice)
	assert.Equal(t, testNow.Add(15*time.Minute), r.ExpiresAt)
	assert.NotEmpty(t, r.ReservationToken)
	assert.Equal(t, models.InventorySnapshot{Total: 20, Available: 17, Reserved: 3, Sold: 0}, env.counters(t, "h1"))
	assert.Equal(t, []string{models.EventReservationCreated}, env.publisher.types())

	require.Equal(t, 1, env.queue.len())
	var msg models.FinalizeMessage
	require.NoError(t, json.Unmarshal(env.queue.bodies[0], &msg))
	assert.Equal(t, r.ID, msg.ReservationID)
}

func TestCreateReservation_WithoutPaymentMethodIsNotQueued(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 20, 0)

	_, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	require.NoError(t, err)
	assert.Zero(t, env.queue.len())
}

func TestCreateReservation_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		houseID string
		userID  string
		qty     int
		setup   func(t *testing.T, env *testEnv)
		want    error
		kind    ErrorKind
	}{
		{name: "zero quantity", houseID: "h1", userID: "u1", qty: 0, want: ErrValidation, kind: KindValidation},
		{name: "above max quantity", houseID: "h1", userID: "u1", qty: 51, want: ErrValidation, kind: KindValidation},
		{name: "unknown house", houseID: "nope", userID: "u1", qty: 1, want: ErrHouseNotFound, kind: KindNotFound},
		{name: "inactive house", houseID: "h1", userID: "u1", qty: 1, want: ErrHouseInactive, kind: KindValidation,
			setup: func(t *testing.T, env *testEnv) {
				h := env.addHouse(t, "h1", 10, 0)
				h.Status = models.HouseStatusInactive
				require.NoError(t, env.store.SaveHouse(context.Background(), h))
			}},
		{name: "lottery ended", houseID: "h1", userID: "u1", qty: 1, want: ErrLotteryEnded, kind: KindValidation,
			setup: func(t *testing.T, env *testEnv) {
				h := env.addHouse(t, "h1", 10, 0)
				h.LotteryEndDate = testNow.Add(-time.Minute)
				require.NoError(t, env.store.SaveHouse(context.Background(), h))
			}},
		{name: "lottery not started", houseID: "h1", userID: "u1", qty: 1, want: ErrLotteryNotStarted, kind: KindValidation,
			setup: func(t *testing.T, env *testEnv) {
				h := env.addHouse(t, "h1", 10, 0)
				h.LotteryStartDate = testNow.Add(time.Hour)
				require.NoError(t, env.store.SaveHouse(context.Background(), h))
			}},
		{name: "unverified user", houseID: "h1", userID: "unverified", qty: 1, want: ErrVerificationRequired, kind: KindUnauthorized},
		{name: "not enough tickets", houseID: "h1", userID: "u1", qty: 11, want: ErrInsufficientInventory, kind: KindCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(t, env)
			} else {
				env.addHouse(t, "h1", 10, 0)
			}

			_, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: tt.qty}, tt.houseID, tt.userID)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestCreateReservation_RateLimitedPerHouse(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *config.ReservationConfig) { c.UserHouseRateLimit = 2 }))
	env.addHouse(t, "h1", 20, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
		require.NoError(t, err)
	}

	_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "user_house", rateErr.Scope)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))
	assert.Equal(t, KindRateLimited, Kind(err))

	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u2")
	assert.NoError(t, err, "other users are unaffected")
}

func TestCreateReservation_InvalidPromotion(t *testing.T) {
	pricer := &mockPricer{}
	pricer.On("Validate", "BAD", 10.0).Return(&models.PromotionValidation{Valid: false, ErrorCode: "EXPIRED"}, nil)
	env := newTestEnv(t, withPricer(pricer))
	env.addHouse(t, "h1", 20, 0)

	_, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: 2, PromotionCode: "BAD"}, "h1", "u1")
	var promoErr *PromotionError
	require.ErrorAs(t, err, &promoErr)
	assert.Equal(t, "EXPIRED", promoErr.Code)
	assert.ErrorIs(t, err, ErrInvalidPromotion)
	assert.Equal(t, 20, env.counters(t, "h1").Available)
}

func TestCreateReservation_AppliesDiscount(t *testing.T) {
	pricer := &mockPricer{}
	pricer.On("Validate", "SAVE4", 20.0).Return(&models.PromotionValidation{Valid: true, DiscountAmount: 4}, nil)
	env := newTestEnv(t, withPricer(pricer))
	env.addHouse(t, "h1", 20, 0)

	r, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: 4, PromotionCode: "SAVE4"}, "h1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 16.0, r.TotalPrice)
	assert.Equal(t, 4.0, r.DiscountAmount)
	pricer.AssertExpectations(t)
}

func TestCreateReservation_ReleasesHoldWhenDurableWriteFails(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	env.store.failCreateReservation = true

	_, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: 4}, "h1", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)

	assert.Equal(t, models.InventorySnapshot{Total: 10, Available: 10, Reserved: 0, Sold: 0}, env.counters(t, "h1"))
	assert.Empty(t, env.publisher.types())
}

func TestCreateReservation_FailureFreesParticipantSlot(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 5, 2)
	ctx := context.Background()

	_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	require.NoError(t, err)

	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 9}, "h1", "u2")
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	env.store.failCreateReservation = true
	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u3")
	assert.ErrorIs(t, err, ErrTransient)
	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	assert.ErrorIs(t, err, ErrTransient)
	env.store.failCreateReservation = false

	stats, err := env.inventory.GetParticipantStats(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UniqueParticipants, "u1 keeps the slot of its earlier reservation")

	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u4")
	assert.NoError(t, err)
}

func TestCreateReservation_ParticipantCap(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 50, 2)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", user)
		require.NoError(t, err)
	}

	_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u3")
	assert.ErrorIs(t, err, ErrParticipantCapReached)

	_, err = env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2}, "h1", "u1")
	assert.NoError(t, err, "existing participants may buy more")

	stats, err := env.inventory.GetParticipantStats(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UniqueParticipants)
	assert.Equal(t, 0, stats.RemainingSlots)
	assert.True(t, stats.HasCap)
}

func TestCreateReservation_ConcurrentNeverOversells(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)

	var wg sync.WaitGroup
	var ok, soldOut int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.reservations.CreateReservation(context.Background(), &models.ReservationRequest{Quantity: 1}, "h1", fmt.Sprintf("u%d", i))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrInsufficientInventory):
				atomic.AddInt32(&soldOut, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok)
	assert.Equal(t, int32(20), soldOut)
	snap := env.counters(t, "h1")
	assert.Equal(t, 0, snap.Available)
	assert.True(t, snap.Valid())

	pending, err := env.store.SumPendingQuantity(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 10, pending)
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 3}, "h1", "u1")
	require.NoError(t, err)

	_, err = env.reservations.CancelReservation(ctx, r.ID, "intruder")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	cancelled, err := env.reservations.CancelReservation(ctx, r.ID, "u1")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, 10, env.counters(t, "h1").Available)

	cancelled, err = env.reservations.CancelReservation(ctx, r.ID, "u1")
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, 10, env.counters(t, "h1").Available, "second cancel releases nothing")

	stored, err := env.reservations.GetReservation(ctx, r.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestGetUserReservations_Paginates(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 50, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
		require.NoError(t, err)
	}

	page, err := env.reservations.GetUserReservations(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Page)

	page, err = env.reservations.GetUserReservations(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.Len(t, page.Items, 5)
}

func TestCompleteReservation_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "abcd-ef12-3456", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2}, "abcd-ef12-3456", "u1")
	require.NoError(t, err)

	first, err := env.reservations.CompleteReservation(ctx, r.ID, "pay_1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "ABCDEF12-000001", first[0].TicketNumber)
	assert.Equal(t, "ABCDEF12-000002", first[1].TicketNumber)

	second, err := env.reservations.CompleteReservation(ctx, r.ID, "pay_1")
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)

	assert.Equal(t, models.InventorySnapshot{Total: 10, Available: 8, Reserved: 0, Sold: 2}, env.counters(t, "abcd-ef12-3456"))
	assert.Contains(t, env.publisher.types(), models.EventTicketsCreated)
}

func TestCompleteReservation_ClosedReservation(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2}, "h1", "u1")
	require.NoError(t, err)
	_, err = env.reservations.CancelReservation(ctx, r.ID, "u1")
	require.NoError(t, err)

	_, err = env.reservations.CompleteReservation(ctx, r.ID, "pay_1")
	assert.ErrorIs(t, err, ErrReservationClosed)

	count, err := env.store.CountActiveTickets(ctx, "h1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
