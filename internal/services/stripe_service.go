package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/utils"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeGateway charges reservations through Stripe payment intents.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "Stripe secret key not configured")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{client: sc, log: log}, nil
}

// Charge confirms a payment intent for the reservation. The idempotency key
// makes Stripe return the original intent when a charge is retried.
func (g *StripeGateway) Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	g.log.LogPayment("CHARGE", req.ReservationID, fmt.Sprintf("Charging %.2f %s", req.Amount, req.Currency))

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(int64(math.Round(req.Amount * 100))),
		Currency:           stripe.String(req.Currency),
		PaymentMethod:      stripe.String(req.PaymentMethodID),
		Description:        stripe.String("Lottery tickets for reservation " + req.ReservationID),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
		Metadata: map[string]string{
			"reservation_id": req.ReservationID,
			"user_id":        req.UserID,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			g.log.LogPayment("DECLINED", req.ReservationID, stripeErr.Msg)
			return &models.ChargeResult{Success: false, Status: models.StatusFailed, Message: stripeErr.Msg}, nil
		}
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	result := &models.ChargeResult{TransactionID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Success = true
		result.Status = models.StatusSuccess
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		result.Status = models.StatusPending
		result.Message = fmt.Sprintf("payment intent %s is %s", pi.ID, pi.Status)
	default:
		result.Status = models.StatusFailed
		result.Message = fmt.Sprintf("payment intent %s ended in %s", pi.ID, pi.Status)
	}
	g.log.LogPayment("STRIPE", req.ReservationID, fmt.Sprintf("Payment intent %s status %s", pi.ID, pi.Status))
	return result, nil
}

// MockGateway approves every charge. Repeated idempotency keys return the
// first result, like the real gateway.
type MockGateway struct {
	mu      sync.Mutex
	results map[string]*models.ChargeResult
	log     *logger.Logger
}

func NewMockGateway(log *logger.Logger) *MockGateway {
	return &MockGateway{results: make(map[string]*models.ChargeResult), log: log}
}

func (g *MockGateway) Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.results[req.IdempotencyKey]; ok {
		return res, nil
	}
	res := &models.ChargeResult{
		Success:       true,
		TransactionID: utils.GenerateTransactionID(),
		Status:        models.StatusSuccess,
	}
	g.results[req.IdempotencyKey] = res
	g.log.LogPayment("MOCK_CHARGE", req.ReservationID, fmt.Sprintf("Approved %.2f as %s", req.Amount, res.TransactionID))
	return res, nil
}
