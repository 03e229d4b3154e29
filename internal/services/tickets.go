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

type TicketService struct {
	store storage.Store
	fast  FastInventory
	log   *logger.Logger
	now   func() time.Time
}

func NewTicketService(store storage.Store, fast FastInventory, log *logger.Logger) *TicketService {
	return &TicketService{store: store, fast: fast, log: log, now: time.Now}
}

// CreateTicketsFromPayment issues the tickets paid for by in.PaymentID. A
// payment that already has tickets gets the same tickets back.
func (s *TicketService) CreateTicketsFromPayment(ctx context.Context, in models.CreateTicketsInput) ([]*models.Ticket, error) {
	if in.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if in.PaymentID == "" {
		return nil, &ValidationError{Field: "paymentId", Message: "is required"}
	}

	var tickets []*models.Ticket
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		tickets, err = s.createTickets(txCtx, in)
		return err
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// A concurrent call for the same payment won the unique key.
		s.log.LogDatabase("DUPLICATE", "tickets", fmt.Sprintf("Tickets for payment %s already created, re-reading", in.PaymentID))
		existing, readErr := s.store.GetTicketsByPayment(ctx, in.PaymentID)
		if readErr != nil {
			return nil, readErr
		}
		if len(existing) == 0 {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// createTickets must run inside a transaction.
func (s *TicketService) createTickets(ctx context.Context, in models.CreateTicketsInput) ([]*models.Ticket, error) {
	existing, err := s.store.GetTicketsByPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.log.LogPayment("EXISTING", in.PaymentID, fmt.Sprintf("Returning %d existing tickets", len(existing)))
		return existing, nil
	}

	house, err := loadHouse(ctx, s.store, in.HouseID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDurableCap(ctx, house, in.UserID); err != nil {
		return nil, err
	}
	sold, err := s.store.CountActiveTickets(ctx, house.ID)
	if err != nil {
		return nil, err
	}
	held, err := s.heldByOthers(ctx, house.ID, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if sold+held+in.Quantity > house.TotalTickets {
		return nil, ErrInsufficientInventory
	}

	start, err := s.store.AllocateTicketSequence(ctx, house.ID, in.Quantity)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	short := house.ShortID()
	tickets := make([]*models.Ticket, in.Quantity)
	for i := range tickets {
		tickets[i] = &models.Ticket{
			ID:            uuid.NewString(),
			HouseID:       house.ID,
			UserID:        in.UserID,
			TicketNumber:  models.FormatTicketNumber(short, start+int64(i)),
			PurchasePrice: in.UnitPrice,
			Status:        models.TicketActive,
			PaymentID:     in.PaymentID,
			BatchIndex:    i,
			ReservationID: in.ReservationID,
			CreatedAt:     now,
		}
	}
	if err := s.store.CreateTickets(ctx, tickets); err != nil {
		return nil, err
	}

	s.log.LogDatabase("INSERT", "tickets", fmt.Sprintf("Created %d tickets for payment %s on house %s", len(tickets), in.PaymentID, house.ID))
	return tickets, nil
}

// heldByOthers is the quantity covered by pending reservations other than
// reservationID.
func (s *TicketService) heldByOthers(ctx context.Context, houseID, reservationID string) (int, error) {
	pending, err := s.store.SumPendingQuantity(ctx, houseID)
	if err != nil {
		return 0, err
	}
	if reservationID == "" {
		return pending, nil
	}
	own, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, storage.ErrNotFound) {
		return pending, nil
	}
	if err != nil {
		return 0, err
	}
	if own.HouseID == houseID && own.IsPending() {
		pending -= own.Quantity
	}
	return pending, nil
}

// checkDurableCap fails when userID would be a new participant in a house
// whose cap is already reached.
func (s *TicketService) checkDurableCap(ctx context.Context, house *models.House, userID string) error {
	if !house.HasParticipantCap() {
		return nil
	}
	participant, err := s.store.IsParticipant(ctx, house.ID, userID)
	if err != nil {
		return err
	}
	if participant {
		return nil
	}
	ids, err := s.store.ListParticipantIDs(ctx, house.ID)
	if err != nil {
		return err
	}
	if len(ids) >= house.MaxParticipants {
		return ErrParticipantCapReached
	}
	return nil
}

// ValidatePurchase runs the reservation checks without reserving anything.
func (s *TicketService) ValidatePurchase(ctx context.Context, houseID, userID string, quantity int) (*models.PurchaseValidation, error) {
	house, err := loadHouse(ctx, s.store, houseID)
	if err != nil {
		return nil, err
	}

	result := &models.PurchaseValidation{MaxParticipants: house.MaxParticipants}
	if quantity <= 0 {
		result.Reason = "quantity must be positive"
		return result, nil
	}
	if err := checkHouseOpen(house, s.now().UTC()); err != nil {
		result.Reason = err.Error()
		return result, nil
	}

	available, err := s.fast.GetAvailable(ctx, houseID)
	if err != nil {
		return nil, transient("read inventory", err)
	}
	result.Available = available

	participant, err := s.store.IsParticipant(ctx, houseID, userID)
	if err != nil {
		return nil, transient("check participant", err)
	}
	result.IsParticipant = participant

	if house.HasParticipantCap() {
		count, err := s.fast.ParticipantCount(ctx, houseID)
		if err != nil {
			return nil, transient("read participants", err)
		}
		result.RemainingSlots = house.MaxParticipants - count
		if result.RemainingSlots < 0 {
			result.RemainingSlots = 0
		}
		if !participant && result.RemainingSlots == 0 {
			result.Reason = ErrParticipantCapReached.Error()
			return result, nil
		}
	}

	if available < quantity {
		result.Reason = ErrInsufficientInventory.Error()
		return result, nil
	}
	result.Valid = true
	return result, nil
}
