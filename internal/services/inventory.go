package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/storage"
)

// DurableInventory recomputes inventory from the system of record. It seeds
// cold fast-store keys and drives reconciliation.
type DurableInventory struct {
	store storage.Store
}

func NewDurableInventory(store storage.Store) *DurableInventory {
	return &DurableInventory{store: store}
}

// Snapshot counts Active tickets as sold and pending reservations as reserved.
func (d *DurableInventory) Snapshot(ctx context.Context, houseID string) (models.InventorySnapshot, error) {
	house, err := d.store.GetHouse(ctx, houseID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.InventorySnapshot{}, ErrHouseNotFound
	}
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	sold, err := d.store.CountActiveTickets(ctx, houseID)
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	reserved, err := d.store.SumPendingQuantity(ctx, houseID)
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	return models.NewInventorySnapshot(house.TotalTickets, sold, reserved), nil
}

func (d *DurableInventory) ParticipantIDs(ctx context.Context, houseID string) ([]string, error) {
	return d.store.ListParticipantIDs(ctx, houseID)
}

type InventoryService struct {
	*DurableInventory
	fast FastInventory
	log  *logger.Logger
	now  func() time.Time
}

func NewInventoryService(durable *DurableInventory, fast FastInventory, log *logger.Logger) *InventoryService {
	return &InventoryService{DurableInventory: durable, fast: fast, log: log, now: time.Now}
}

func (s *InventoryService) GetHouseStatus(ctx context.Context, houseID string) (*models.InventoryStatus, error) {
	house, err := loadHouse(ctx, s.store, houseID)
	if err != nil {
		return nil, err
	}
	status, err := s.fast.GetStatus(ctx, house, s.now().UTC())
	if err != nil {
		s.log.Error("INVENTORY", fmt.Sprintf("Failed to read status of house %s: %v", houseID, err))
		return nil, transient("read inventory", err)
	}
	return status, nil
}

func (s *InventoryService) GetParticipantStats(ctx context.Context, houseID string) (*models.ParticipantStats, error) {
	house, err := loadHouse(ctx, s.store, houseID)
	if err != nil {
		return nil, err
	}
	count, err := s.fast.ParticipantCount(ctx, houseID)
	if err != nil {
		return nil, transient("read participants", err)
	}

	stats := &models.ParticipantStats{
		HouseID:            houseID,
		UniqueParticipants: count,
		MaxParticipants:    house.MaxParticipants,
		HasCap:             house.HasParticipantCap(),
	}
	if stats.HasCap {
		stats.RemainingSlots = house.MaxParticipants - count
		if stats.RemainingSlots < 0 {
			stats.RemainingSlots = 0
		}
	}
	return stats, nil
}

func loadHouse(ctx context.Context, store storage.Store, houseID string) (*models.House, error) {
	house, err := store.GetHouse(ctx, houseID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrHouseNotFound
	}
	if err != nil {
		return nil, transient("load house", err)
	}
	return house, nil
}

// checkHouseOpen reports why a house does not accept purchases at now.
func checkHouseOpen(house *models.House, now time.Time) error {
	switch {
	case !house.IsActive():
		return ErrHouseInactive
	case house.HasEnded(now):
		return ErrLotteryEnded
	case !house.HasStarted(now):
		return ErrLotteryNotStarted
	}
	return nil
}
