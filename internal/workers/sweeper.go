package workers

import (
	"context"
	"fmt"
	"time"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/storage"
)

type Releaser interface {
	Release(ctx context.Context, houseID string, qty int, token string) (bool, error)
}

// Sweeper expires pending reservations whose hold ran out and returns their
// tickets to the fast store.
type Sweeper struct {
	store     storage.Store
	fast      Releaser
	publisher services.EventPublisher
	batch     int
	log       *logger.Logger
	now       func() time.Time
}

func NewSweeper(store storage.Store, fast Releaser, publisher services.EventPublisher, batch int, log *logger.Logger) *Sweeper {
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		store:     store,
		fast:      fast,
		publisher: publisher,
		batch:     batch,
		log:       log,
		now:       time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep expires one batch and returns how many reservations moved to expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	expired, err := s.store.ListExpiredReservations(ctx, now, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, r := range expired {
		if _, err := s.fast.Release(ctx, r.HouseID, r.Quantity, r.ReservationToken); err != nil {
			s.log.Error("SWEEPER", fmt.Sprintf("Failed to release reservation %s, retrying next sweep: %v", r.ID, err))
			continue
		}
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.store.ExpireReservations(ctx, ids, now)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	s.log.LogWorker("sweeper", fmt.Sprintf("Expired %d of %d reservations", n, len(ids)))

	for _, id := range ids {
		r, err := s.store.GetReservation(ctx, id)
		if err != nil {
			s.log.Warn("SWEEPER", fmt.Sprintf("Failed to reload reservation %s: %v", id, err))
			continue
		}
		// Completed between the listing and the update.
		if r.Status != models.ReservationExpired {
			continue
		}
		s.publish(r, now)
	}
	return n, nil
}

func (s *Sweeper) publish(r *models.Reservation, now time.Time) {
	if s.publisher == nil {
		return
	}
	event := &models.ReservationEvent{
		Type:          models.EventReservationExpired,
		ReservationID: r.ID,
		HouseID:       r.HouseID,
		UserID:        r.UserID,
		Quantity:      r.Quantity,
		TotalPrice:    r.TotalPrice,
		Status:        r.Status,
		Timestamp:     now,
	}
	if err := s.publisher.PublishReservationEvent(event); err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("Failed to publish expiry of reservation %s: %v", r.ID, err))
	}
}
