package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/models"
)

func TestProcessReservation_ChargesOnceAcrossRetries(t *testing.T) {
	gateway := &mockGateway{}
	env := newTestEnv(t, withGateway(gateway))
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2, PaymentMethodID: "pm_card"}, "h1", "u1")
	require.NoError(t, err)
	gateway.On("Charge", r.ID, 10.0).Return(&models.ChargeResult{Success: true, TransactionID: "pi_123", Status: models.StatusSuccess}, nil).Once()

	env.store.ticketFailures = 1
	err = env.payments.ProcessReservation(ctx, r.ID)
	require.Error(t, err, "ticket insert fails on the first attempt")

	stored, err := env.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", stored.PaymentTransactionID)
	assert.True(t, stored.IsPending())

	require.NoError(t, env.payments.ProcessReservation(ctx, r.ID))
	require.NoError(t, env.payments.ProcessReservation(ctx, r.ID), "completed reservations are a no-op")
	gateway.AssertNumberOfCalls(t, "Charge", 1)

	stored, err = env.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, stored.Status)

	tickets, err := env.store.GetTicketsByPayment(ctx, "pi_123")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
	assert.Equal(t, 5.0, tickets[0].PurchasePrice)
	assert.Equal(t, models.InventorySnapshot{Total: 10, Available: 8, Reserved: 0, Sold: 2}, env.counters(t, "h1"))
}

func TestProcessReservation_DeclinedChargeRecordsError(t *testing.T) {
	gateway := &mockGateway{}
	env := newTestEnv(t, withGateway(gateway))
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1, PaymentMethodID: "pm_declined"}, "h1", "u1")
	require.NoError(t, err)
	gateway.On("Charge", r.ID, mock.Anything).Return(&models.ChargeResult{Success: false, Status: models.StatusFailed, Message: "card declined"}, nil)

	err = env.payments.ProcessReservation(ctx, r.ID)
	assert.ErrorIs(t, err, ErrPaymentFailed)

	stored, err := env.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "card declined", stored.ErrorMessage)
	assert.True(t, stored.IsPending())
}

func TestProcessReservation_GatewayErrorIsTransient(t *testing.T) {
	gateway := &mockGateway{}
	env := newTestEnv(t, withGateway(gateway))
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 1, PaymentMethodID: "pm_card"}, "h1", "u1")
	require.NoError(t, err)
	gateway.On("Charge", r.ID, mock.Anything).Return(nil, errors.New("connection reset"))

	err = env.payments.ProcessReservation(ctx, r.ID)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestProcessReservation_PromotionApplyFailureIsAudited(t *testing.T) {
	pricer := &mockPricer{}
	pricer.On("Validate", "SAVE", 10.0).Return(&models.PromotionValidation{Valid: true, DiscountAmount: 2}, nil)
	pricer.On("Apply", "SAVE", 2.0).Return(errors.New("promotion service down"))
	env := newTestEnv(t, withPricer(pricer))
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2, PromotionCode: "SAVE", PaymentMethodID: "pm_card"}, "h1", "u1")
	require.NoError(t, err)

	require.NoError(t, env.payments.ProcessReservation(ctx, r.ID))

	stored, err := env.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, stored.Status)

	audits := env.store.AuditRecords()
	require.Len(t, audits, 1)
	assert.Equal(t, models.AuditPromotionUsageFailed, audits[0].Kind)
	assert.Equal(t, r.ID, audits[0].ReservationID)
	pricer.AssertExpectations(t)
}

func TestProcessReservation_ExpiredIsSkipped(t *testing.T) {
	gateway := &mockGateway{}
	env := newTestEnv(t, withGateway(gateway))
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r := &models.Reservation{
		ID: "r-old", HouseID: "h1", UserID: "u1", Quantity: 1, TotalPrice: 5,
		Status: models.ReservationPending, ReservationToken: "tok", PaymentMethodID: "pm_card",
		ExpiresAt: testNow.Add(-time.Second), CreatedAt: testNow.Add(-20 * time.Minute), UpdatedAt: testNow,
	}
	require.NoError(t, env.store.CreateReservation(ctx, r))

	require.NoError(t, env.payments.ProcessReservation(ctx, r.ID))
	gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestQuickPurchase(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, tickets, err := env.payments.QuickPurchase(ctx, &models.ReservationRequest{Quantity: 3, PaymentMethodID: "pm_card"}, "h1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, r.Status)
	assert.Len(t, tickets, 3)
	assert.Zero(t, env.queue.len(), "inline purchases are not queued")

	_, _, err = env.payments.QuickPurchase(ctx, &models.ReservationRequest{Quantity: 1}, "h1", "u1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestQuickPurchase_DeclinedCancels(t *testing.T) {
	gateway := &mockGateway{}
	gateway.On("Charge", mock.Anything, mock.Anything).Return(&models.ChargeResult{Success: false, Message: "insufficient funds"}, nil)
	env := newTestEnv(t, withGateway(gateway))
	env.addHouse(t, "h1", 10, 0)

	r, _, err := env.payments.QuickPurchase(context.Background(), &models.ReservationRequest{Quantity: 3, PaymentMethodID: "pm_card"}, "h1", "u1")
	assert.ErrorIs(t, err, ErrPaymentFailed)
	require.NotNil(t, r)

	stored, err := env.store.GetReservation(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, stored.Status)
	assert.Equal(t, 10, env.counters(t, "h1").Available)
}

func TestProcessPaymentEvent(t *testing.T) {
	env := newTestEnv(t)
	env.addHouse(t, "h1", 10, 0)
	ctx := context.Background()

	r, err := env.reservations.CreateReservation(ctx, &models.ReservationRequest{Quantity: 2}, "h1", "u1")
	require.NoError(t, err)

	event := &models.PaymentEvent{
		Type:      "payment.success",
		PaymentID: "pay_ext",
		Payment:   &models.Payment{PaymentID: "pay_ext", OrderID: r.ID, Status: models.StatusSuccess, Price: 10},
	}
	require.NoError(t, env.payments.ProcessPaymentEvent(ctx, event))
	require.NoError(t, env.payments.ProcessPaymentEvent(ctx, event), "redelivered events are harmless")

	tickets, err := env.store.GetTicketsByPayment(ctx, "pay_ext")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	unknown := &models.PaymentEvent{Payment: &models.Payment{PaymentID: "p", OrderID: "missing", Status: models.StatusSuccess}}
	assert.NoError(t, env.payments.ProcessPaymentEvent(ctx, unknown))
}
