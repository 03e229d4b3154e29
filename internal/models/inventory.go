package models

import "time"

// InventorySnapshot holds the four counters of a house as known to one store.
type InventorySnapshot struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Sold      int `json:"sold"`
}

// NewInventorySnapshot derives available from the durable counts.
func NewInventorySnapshot(total, sold, reserved int) InventorySnapshot {
	return InventorySnapshot{
		Total:     total,
		Sold:      sold,
		Reserved:  reserved,
		Available: total - sold - reserved,
	}
}

// Valid reports whether the counters satisfy the inventory invariants.
func (s InventorySnapshot) Valid() bool {
	return s.Total >= 0 && s.Sold >= 0 && s.Reserved >= 0 && s.Available >= 0 &&
		s.Sold+s.Reserved <= s.Total &&
		s.Available == s.Total-s.Sold-s.Reserved
}

func (s InventorySnapshot) Equal(o InventorySnapshot) bool {
	return s == o
}

type InventoryStatus struct {
	HouseID       string        `json:"houseId"`
	Total         int           `json:"total"`
	Available     int           `json:"available"`
	Reserved      int           `json:"reserved"`
	Sold          int           `json:"sold"`
	TimeRemaining time.Duration `json:"timeRemaining"`
	IsSoldOut     bool          `json:"isSoldOut"`
	IsEnded       bool          `json:"isEnded"`
}

type ParticipantStats struct {
	HouseID            string `json:"houseId"`
	UniqueParticipants int    `json:"uniqueParticipants"`
	MaxParticipants    int    `json:"maxParticipants"`
	RemainingSlots     int    `json:"remainingSlots"`
	HasCap             bool   `json:"hasCap"`
}
