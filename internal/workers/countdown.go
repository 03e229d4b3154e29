package workers

import (
	"context"
	"fmt"
	"time"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/storage"
)

type StatusReader interface {
	GetHouseStatus(ctx context.Context, houseID string) (*models.InventoryStatus, error)
}

type CountdownPublisher interface {
	PublishCountdown(event *models.HouseCountdownEvent) error
}

// Countdown broadcasts the live status of every open house.
type Countdown struct {
	store     storage.Store
	status    StatusReader
	publisher CountdownPublisher
	log       *logger.Logger
	now       func() time.Time
}

func NewCountdown(store storage.Store, status StatusReader, publisher CountdownPublisher, log *logger.Logger) *Countdown {
	return &Countdown{store: store, status: status, publisher: publisher, log: log, now: time.Now}
}

func (c *Countdown) Run(ctx context.Context) error {
	now := c.now().UTC()
	houses, err := c.store.ListActiveHouses(ctx, now)
	if err != nil {
		return fmt.Errorf("list active houses: %w", err)
	}
	for _, h := range houses {
		status, err := c.status.GetHouseStatus(ctx, h.ID)
		if err != nil {
			c.log.Warn("COUNTDOWN", fmt.Sprintf("No status for house %s: %v", h.ID, err))
			continue
		}
		event := &models.HouseCountdownEvent{
			Type:      models.EventHouseCountdown,
			HouseID:   h.ID,
			Status:    *status,
			Timestamp: now,
		}
		if err := c.publisher.PublishCountdown(event); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to publish countdown for house %s: %v", h.ID, err))
		}
	}
	return nil
}
