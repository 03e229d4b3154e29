package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/storage"
)

// PaymentService charges pending reservations and turns them into tickets.
type PaymentService struct {
	store        storage.Store
	reservations *ReservationService
	gateway      PaymentGateway
	pricer       PromotionPricer
	currency     string
	log          *logger.Logger
}

func NewPaymentService(store storage.Store, reservations *ReservationService, gateway PaymentGateway, pricer PromotionPricer, currency string, log *logger.Logger) *PaymentService {
	if pricer == nil {
		pricer = NoPromotions{}
	}
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{
		store:        store,
		reservations: reservations,
		gateway:      gateway,
		pricer:       pricer,
		currency:     currency,
		log:          log,
	}
}

// ProcessReservation charges a pending reservation once and completes it.
// Reservations that are no longer pending are a no-op. The transaction id
// is stored as soon as the charge succeeds, so a retry never charges twice.
func (s *PaymentService) ProcessReservation(ctx context.Context, id string) error {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrReservationNotFound
	}
	if err != nil {
		return transient("load reservation", err)
	}
	if !r.IsPending() {
		s.log.LogPayment("SKIP", id, fmt.Sprintf("Reservation already %s", r.Status))
		return nil
	}

	paymentID := r.PaymentTransactionID
	if paymentID == "" {
		if r.IsExpired(s.reservations.now().UTC()) {
			s.log.LogPayment("SKIP", id, "Reservation expired before payment")
			return nil
		}
		paymentID, err = s.charge(ctx, r)
		if err != nil {
			return err
		}
	} else {
		s.log.LogPayment("RESUME", id, fmt.Sprintf("Already charged as %s, completing", paymentID))
	}

	tickets, err := s.reservations.CompleteReservation(ctx, r.ID, paymentID)
	if errors.Is(err, ErrReservationClosed) {
		// Money moved but the reservation expired or was cancelled meanwhile.
		s.audit(ctx, models.AuditBookkeepingFailed, r.ID, paymentID, err.Error())
		return nil
	}
	if err != nil {
		return err
	}

	if r.PromotionCode != "" {
		if err := s.pricer.Apply(ctx, r.PromotionCode, r.UserID, r.ID, r.DiscountAmount); err != nil {
			s.log.Error("PROMOTION", fmt.Sprintf("Failed to record promotion %s for reservation %s: %v", r.PromotionCode, r.ID, err))
			s.audit(ctx, models.AuditPromotionUsageFailed, r.ID, paymentID,
				fmt.Sprintf("promotion %s discount %.2f: %v", r.PromotionCode, r.DiscountAmount, err))
		}
	}

	s.log.LogPayment("FINALIZED", paymentID, fmt.Sprintf("Reservation %s produced %d tickets", r.ID, len(tickets)))
	return nil
}

func (s *PaymentService) charge(ctx context.Context, r *models.Reservation) (string, error) {
	if r.TotalPrice <= 0 {
		return "free_" + r.ID, nil
	}
	if r.PaymentMethodID == "" {
		s.recordError(ctx, r.ID, "no payment method")
		return "", fmt.Errorf("%w: reservation %s has no payment method", ErrPaymentFailed, r.ID)
	}

	result, err := s.gateway.Charge(ctx, &models.ChargeRequest{
		UserID:          r.UserID,
		ReservationID:   r.ID,
		Amount:          r.TotalPrice,
		Currency:        s.currency,
		PaymentMethodID: r.PaymentMethodID,
		IdempotencyKey:  r.ID,
	})
	if err != nil {
		s.recordError(ctx, r.ID, err.Error())
		return "", transient("charge", err)
	}
	if !result.Success {
		s.recordError(ctx, r.ID, result.Message)
		return "", fmt.Errorf("%w: %s", ErrPaymentFailed, result.Message)
	}

	if err := s.store.RecordPaymentTransaction(ctx, r.ID, result.TransactionID); err != nil {
		// The idempotency key still protects a retry.
		s.log.Error("PAYMENT", fmt.Sprintf("Failed to record transaction %s for reservation %s: %v", result.TransactionID, r.ID, err))
	}
	s.log.LogPayment("CHARGED", result.TransactionID, fmt.Sprintf("Reservation %s charged %.2f %s", r.ID, r.TotalPrice, s.currency))
	return result.TransactionID, nil
}

func (s *PaymentService) recordError(ctx context.Context, id, message string) {
	if err := s.store.RecordReservationError(ctx, id, message); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to record error for reservation %s: %v", id, err))
	}
}

func (s *PaymentService) audit(ctx context.Context, kind models.AuditKind, reservationID, paymentID, detail string) {
	record := &models.AuditRecord{
		ID:            uuid.NewString(),
		Kind:          kind,
		ReservationID: reservationID,
		PaymentID:     paymentID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveAuditRecord(ctx, record); err != nil {
		s.log.Error("AUDIT", fmt.Sprintf("Failed to save %s audit for reservation %s: %v (%s)", kind, reservationID, err, detail))
		return
	}
	s.log.LogSecurity("AUDIT", fmt.Sprintf("%s recorded for reservation %s", kind, reservationID))
}

// SaveManualReview records a reservation the finalizer gave up on.
func (s *PaymentService) SaveManualReview(ctx context.Context, reservationID, detail string) {
	s.audit(ctx, models.AuditManualReview, reservationID, "", detail)
}

// QuickPurchase reserves and pays in one call. A declined payment cancels the
// reservation; other failures leave it pending for the finalizer.
func (s *PaymentService) QuickPurchase(ctx context.Context, req *models.ReservationRequest, houseID, userID string) (*models.Reservation, []*models.Ticket, error) {
	if req != nil && req.PaymentMethodID == "" {
		return nil, nil, &ValidationError{Field: "paymentMethodId", Message: "is required for a quick purchase"}
	}
	r, err := s.reservations.createReservation(ctx, req, houseID, userID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.ProcessReservation(ctx, r.ID); err != nil {
		if errors.Is(err, ErrPaymentFailed) {
			if _, cancelErr := s.reservations.CancelReservation(ctx, r.ID, userID); cancelErr != nil {
				s.log.Error("PAYMENT", fmt.Sprintf("Failed to cancel declined reservation %s: %v", r.ID, cancelErr))
			}
		} else {
			s.reservations.enqueueFinalize(ctx, r.ID)
		}
		return r, nil, err
	}

	completed, err := s.store.GetReservation(ctx, r.ID)
	if err != nil {
		return r, nil, transient("load reservation", err)
	}
	tickets, err := s.store.GetTicketsByPayment(ctx, completed.PaymentTransactionID)
	if err != nil {
		return completed, nil, transient("load tickets", err)
	}
	return completed, tickets, nil
}

// ProcessPaymentEvent completes the reservation named by a payment-success
// event from the payment gateway.
func (s *PaymentService) ProcessPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil || event.Payment == nil || event.Payment.OrderID == "" {
		s.log.Warn("KAFKA", "Payment event without order id, skipping")
		return nil
	}
	payment := event.Payment
	s.log.LogKafka("EVENT_RECEIVED", "payment-success", fmt.Sprintf("Payment %s for reservation %s is %s", payment.PaymentID, payment.OrderID, payment.Status))

	if payment.Status != models.StatusSuccess {
		return nil
	}

	r, err := s.store.GetReservation(ctx, payment.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("KAFKA", fmt.Sprintf("Payment %s references unknown reservation %s", payment.PaymentID, payment.OrderID))
		return nil
	}
	if err != nil {
		return transient("load reservation", err)
	}
	if r.IsPending() && r.PaymentTransactionID == "" {
		if err := s.store.RecordPaymentTransaction(ctx, r.ID, payment.PaymentID); err != nil {
			return transient("record payment", err)
		}
	}

	_, err = s.reservations.CompleteReservation(ctx, r.ID, payment.PaymentID)
	if errors.Is(err, ErrReservationClosed) {
		s.audit(ctx, models.AuditBookkeepingFailed, r.ID, payment.PaymentID, err.Error())
		return nil
	}
	return err
}
