package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/storage"
)

// ReservationDeps are the collaborators of ReservationService.
type ReservationDeps struct {
	Store     storage.Store
	Fast      FastInventory
	Limiter   RateLimiter
	Verifier  IdentityVerifier
	Pricer    PromotionPricer
	Publisher EventPublisher
	Queue     FinalizeQueue
	Tickets   *TicketService
}

type ReservationService struct {
	store     storage.Store
	fast      FastInventory
	limiter   RateLimiter
	verifier  IdentityVerifier
	pricer    PromotionPricer
	publisher EventPublisher
	queue     FinalizeQueue
	tickets   *TicketService
	cfg       config.ReservationConfig
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*ReservationService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) { s.now = now }
}

func NewReservationService(deps ReservationDeps, cfg config.ReservationConfig, log *logger.Logger, opts ...Option) *ReservationService {
	s := &ReservationService{
		store:     deps.Store,
		fast:      deps.Fast,
		limiter:   deps.Limiter,
		verifier:  deps.Verifier,
		pricer:    deps.Pricer,
		publisher: deps.Publisher,
		queue:     deps.Queue,
		tickets:   deps.Tickets,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	if s.pricer == nil {
		s.pricer = NoPromotions{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tickets == nil {
		s.tickets = NewTicketService(s.store, s.fast, log)
	}
	s.tickets.now = s.now
	return s
}

// CreateReservation holds tickets for userID. Every check runs before the
// fast-store hold; a hold whose durable insert fails is released again.
func (s *ReservationService) CreateReservation(ctx context.Context, req *models.ReservationRequest, houseID, userID string) (*models.Reservation, error) {
	reservation, err := s.createReservation(ctx, req, houseID, userID)
	if err != nil {
		return nil, err
	}
	if reservation.PaymentMethodID != "" {
		s.enqueueFinalize(ctx, reservation.ID)
	}
	return reservation, nil
}

func (s *ReservationService) createReservation(ctx context.Context, req *models.ReservationRequest, houseID, userID string) (*models.Reservation, error) {
	if req == nil || req.Quantity < 1 || req.Quantity > s.cfg.MaxQuantity {
		return nil, &ValidationError{Field: "quantity", Message: fmt.Sprintf("must be between 1 and %d", s.cfg.MaxQuantity)}
	}
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Message: "is required"}
	}

	house, err := loadHouse(ctx, s.store, houseID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := checkHouseOpen(house, now); err != nil {
		return nil, err
	}

	if err := s.checkRateLimits(ctx, houseID, userID); err != nil {
		return nil, err
	}

	if s.cfg.RequireVerification {
		verified, err := s.verifier.CheckVerified(ctx, userID)
		if err != nil {
			return nil, transient("check verification", err)
		}
		if !verified {
			s.log.LogSecurity("UNVERIFIED", fmt.Sprintf("User %s attempted a reservation without verification", userID))
			return nil, ErrVerificationRequired
		}
	}

	total := float64(req.Quantity) * house.TicketPrice
	discount := 0.0
	if req.PromotionCode != "" {
		validation, err := s.pricer.Validate(ctx, req.PromotionCode, userID, houseID, total)
		if err != nil {
			return nil, transient("validate promotion", err)
		}
		if !validation.Valid {
			return nil, &PromotionError{Code: validation.ErrorCode}
		}
		discount = validation.DiscountAmount
		if discount > total {
			discount = total
		}
	}

	available, err := s.fast.GetAvailable(ctx, houseID)
	if err != nil {
		return nil, transient("read inventory", err)
	}
	if available < req.Quantity {
		return nil, ErrInsufficientInventory
	}

	reservation := &models.Reservation{
		ID:               uuid.NewString(),
		HouseID:          houseID,
		UserID:           userID,
		Quantity:         req.Quantity,
		TotalPrice:       total - discount,
		PromotionCode:    req.PromotionCode,
		DiscountAmount:   discount,
		Status:           models.ReservationPending,
		ReservationToken: uuid.NewString(),
		PaymentMethodID:  req.PaymentMethodID,
		ExpiresAt:        now.Add(s.cfg.TTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	held, joined := false, false
	err = s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.tickets.checkDurableCap(txCtx, house, userID); err != nil {
			return err
		}
		if house.HasParticipantCap() {
			ok, err := s.fast.CheckParticipantCap(txCtx, houseID, userID, house.MaxParticipants)
			if err != nil {
				return transient("check participant cap", err)
			}
			if !ok {
				return ErrParticipantCapReached
			}
		}
		ok, added, err := s.fast.AddParticipant(txCtx, houseID, userID, house.MaxParticipants)
		if err != nil {
			return transient("add participant", err)
		}
		if !ok {
			return ErrParticipantCapReached
		}
		joined = added

		ok, err = s.fast.Reserve(txCtx, houseID, reservation.Quantity, reservation.ReservationToken)
		if err != nil {
			return transient("reserve inventory", err)
		}
		if !ok {
			return ErrInsufficientInventory
		}
		held = true

		return s.store.CreateReservation(txCtx, reservation)
	})
	if err != nil {
		if held {
			s.releaseHold(ctx, reservation)
		}
		if joined {
			s.dropParticipant(ctx, houseID, userID)
		}
		if Kind(err) == KindInternal {
			s.log.Error("RESERVATION", fmt.Sprintf("Failed to create reservation for user %s on house %s: %v", userID, houseID, err))
			return nil, transient("save reservation", err)
		}
		return nil, err
	}

	s.countAttempt(ctx, houseID, userID)
	s.log.LogReservation("CREATED", reservation.ID, fmt.Sprintf("User %s holds %d tickets on house %s until %s",
		userID, reservation.Quantity, houseID, reservation.ExpiresAt.Format(time.RFC3339)))
	s.publish(models.EventReservationCreated, reservation, nil)
	return reservation, nil
}

func (s *ReservationService) releaseHold(ctx context.Context, r *models.Reservation) {
	if _, err := s.fast.Release(ctx, r.HouseID, r.Quantity, r.ReservationToken); err != nil {
		s.log.Error("RESERVATION", fmt.Sprintf("Failed to release hold of reservation %s, reconciliation will correct it: %v", r.ID, err))
		return
	}
	s.log.LogReservation("ROLLBACK", r.ID, fmt.Sprintf("Released %d held tickets on house %s", r.Quantity, r.HouseID))
}

func (s *ReservationService) dropParticipant(ctx context.Context, houseID, userID string) {
	if _, err := s.fast.RemoveParticipant(ctx, houseID, userID); err != nil {
		s.log.Error("RESERVATION", fmt.Sprintf("Failed to remove participant %s from house %s, reconciliation will correct it: %v", userID, houseID, err))
	}
}

func userRateKey(userID string) string {
	return "reservations:user:" + userID
}

func userHouseRateKey(houseID, userID string) string {
	return fmt.Sprintf("reservations:user:%s:house:%s", userID, houseID)
}

func (s *ReservationService) checkRateLimits(ctx context.Context, houseID, userID string) error {
	if s.limiter == nil {
		return nil
	}
	checks := []struct {
		scope string
		key   string
		limit int
	}{
		{"user", userRateKey(userID), s.cfg.UserRateLimit},
		{"user_house", userHouseRateKey(houseID, userID), s.cfg.UserHouseRateLimit},
	}
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		allowed, retryAfter, err := s.limiter.CheckRateLimit(ctx, c.key, c.limit)
		if err != nil {
			return transient("check rate limit", err)
		}
		if !allowed {
			return &RateLimitError{Scope: c.scope, RetryAfter: retryAfter}
		}
	}
	return nil
}

func (s *ReservationService) countAttempt(ctx context.Context, houseID, userID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.IncrementRateLimit(ctx, userRateKey(userID), s.cfg.UserRateWindow); err != nil {
		s.log.Warn("RATE_LIMIT", fmt.Sprintf("Failed to count reservation of user %s: %v", userID, err))
	}
	if err := s.limiter.IncrementRateLimit(ctx, userHouseRateKey(houseID, userID), s.cfg.UserHouseRateWindow); err != nil {
		s.log.Warn("RATE_LIMIT", fmt.Sprintf("Failed to count reservation of user %s on house %s: %v", userID, houseID, err))
	}
}

func (s *ReservationService) enqueueFinalize(ctx context.Context, reservationID string) {
	if s.queue == nil {
		return
	}
	body, err := json.Marshal(models.FinalizeMessage{ReservationID: reservationID, EnqueuedAt: s.now().UTC()})
	if err != nil {
		s.log.Error("QUEUE", fmt.Sprintf("Failed to encode finalize message for %s: %v", reservationID, err))
		return
	}
	if _, err := s.queue.Send(ctx, body); err != nil {
		// The reservation expires and releases its tickets if it is never finalized.
		s.log.Error("QUEUE", fmt.Sprintf("Failed to enqueue reservation %s for finalization: %v", reservationID, err))
		return
	}
	s.log.LogReservation("ENQUEUED", reservationID, "Queued for payment")
}

// CancelReservation cancels a pending reservation owned by userID. It returns
// false when the reservation was already processed.
func (s *ReservationService) CancelReservation(ctx context.Context, id, userID string) (bool, error) {
	r, err := s.GetReservation(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if !r.IsPending() {
		return false, nil
	}

	now := s.now().UTC()
	ok, err := s.store.TransitionReservation(ctx, id, models.ReservationCancelled, storage.ReservationUpdate{ProcessedAt: now})
	if err != nil {
		return false, transient("cancel reservation", err)
	}
	if !ok {
		s.log.LogReservation("CANCEL_SKIPPED", id, "Reservation was processed concurrently")
		return false, nil
	}
	// Released after the durable transition so a concurrent completion never
	// finds its tickets returned to the pool.
	s.releaseHold(ctx, r)

	r.Status = models.ReservationCancelled
	r.ProcessedAt = &now
	s.log.LogReservation("CANCELLED", id, fmt.Sprintf("Cancelled by user %s", userID))
	s.publish(models.EventReservationCancelled, r, nil)
	return true, nil
}

// GetReservation returns a reservation owned by userID. Reservations of other
// users are reported as not found.
func (s *ReservationService) GetReservation(ctx context.Context, id, userID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, transient("load reservation", err)
	}
	if r.UserID != userID {
		s.log.LogSecurity("FOREIGN_RESERVATION", fmt.Sprintf("User %s requested reservation %s", userID, id))
		return nil, ErrReservationNotFound
	}
	return r, nil
}

func (s *ReservationService) GetUserReservations(ctx context.Context, userID string, page, limit int) (*models.ReservationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	items, total, err := s.store.ListUserReservations(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, transient("list reservations", err)
	}
	return &models.ReservationPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// CompleteReservation turns a paid reservation into tickets. Calling it again
// with the same payment returns the tickets already issued.
func (s *ReservationService) CompleteReservation(ctx context.Context, id, paymentID string) ([]*models.Ticket, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, transient("load reservation", err)
	}

	if r.Status == models.ReservationCompleted {
		if r.PaymentTransactionID != "" && r.PaymentTransactionID != paymentID {
			s.log.Warn("RESERVATION", fmt.Sprintf("Reservation %s completed by payment %s, ignoring payment %s", id, r.PaymentTransactionID, paymentID))
		}
		return s.store.GetTicketsByPayment(ctx, r.PaymentTransactionID)
	}
	if !r.IsPending() {
		return nil, fmt.Errorf("%w: reservation %s is %s", ErrReservationClosed, id, r.Status)
	}

	now := s.now().UTC()
	unitPrice := 0.0
	if r.Quantity > 0 {
		unitPrice = r.TotalPrice / float64(r.Quantity)
	}

	var tickets []*models.Ticket
	err = s.store.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		tickets, err = s.tickets.createTickets(txCtx, models.CreateTicketsInput{
			HouseID:       r.HouseID,
			UserID:        r.UserID,
			Quantity:      r.Quantity,
			UnitPrice:     unitPrice,
			PaymentID:     paymentID,
			ReservationID: r.ID,
		})
		if err != nil {
			return err
		}
		ok, err := s.store.TransitionReservation(txCtx, r.ID, models.ReservationCompleted, storage.ReservationUpdate{
			ProcessedAt:          now,
			PaymentTransactionID: paymentID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reservation %s", ErrReservationClosed, r.ID)
		}
		return nil
	})
	if errors.Is(err, storage.ErrDuplicate) {
		existing, readErr := s.store.GetTicketsByPayment(ctx, paymentID)
		if readErr == nil && len(existing) > 0 {
			return existing, nil
		}
	}
	if err != nil {
		if Kind(err) == KindInternal {
			return nil, transient("complete reservation", err)
		}
		return nil, err
	}

	if _, err := s.fast.Commit(ctx, r.HouseID, r.Quantity, r.ReservationToken); err != nil {
		s.log.Error("RESERVATION", fmt.Sprintf("Failed to commit inventory of reservation %s, reconciliation will correct it: %v", r.ID, err))
	}

	r.Status = models.ReservationCompleted
	r.PaymentTransactionID = paymentID
	r.ProcessedAt = &now
	s.log.LogReservation("COMPLETED", r.ID, fmt.Sprintf("Issued %d tickets for payment %s", len(tickets), paymentID))
	s.publish(models.EventReservationCompleted, r, nil)
	s.publish(models.EventTicketsCreated, r, tickets)
	return tickets, nil
}

func (s *ReservationService) publish(eventType string, r *models.Reservation, tickets []*models.Ticket) {
	if s.publisher == nil {
		return
	}
	event := &models.ReservationEvent{
		Type:           eventType,
		ReservationID:  r.ID,
		HouseID:        r.HouseID,
		UserID:         r.UserID,
		Quantity:       r.Quantity,
		TotalPrice:     r.TotalPrice,
		DiscountAmount: r.DiscountAmount,
		Status:         r.Status,
		PaymentID:      r.PaymentTransactionID,
		Timestamp:      s.now().UTC(),
	}
	for _, t := range tickets {
		event.TicketNumbers = append(event.TicketNumbers, t.TicketNumber)
	}
	if err := s.publisher.PublishReservationEvent(event); err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for reservation %s: %v", eventType, r.ID, err))
	}
}
