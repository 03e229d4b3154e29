package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/storage"
)

var errOverwriteRejected = errors.New("fast store rejected the recomputed counters")

type Locker interface {
	AcquireHouseLock(ctx context.Context, houseID string, ttl time.Duration) (string, bool, error)
	ReleaseHouseLock(ctx context.Context, houseID, token string) error
}

// CounterStore is the part of the fast store reconciliation rewrites.
type CounterStore interface {
	Counters(ctx context.Context, houseID string) (models.InventorySnapshot, error)
	Overwrite(ctx context.Context, houseID string, snap models.InventorySnapshot) (bool, error)
	Participants(ctx context.Context, houseID string) ([]string, error)
	SyncParticipants(ctx context.Context, houseID string, userIDs []string) error
}

// Reconciler brings the fast counters of every open house back in line with
// durable storage.
type Reconciler struct {
	store   storage.Store
	durable *services.DurableInventory
	fast    CounterStore
	locker  Locker
	lockTTL time.Duration
	log     *logger.Logger
	now     func() time.Time
}

func NewReconciler(store storage.Store, durable *services.DurableInventory, fast CounterStore, locker Locker, lockTTL time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		durable: durable,
		fast:    fast,
		locker:  locker,
		lockTTL: lockTTL,
		log:     log,
		now:     time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	houses, err := r.store.ListActiveHouses(ctx, r.now().UTC())
	if err != nil {
		return fmt.Errorf("list active houses: %w", err)
	}
	for _, h := range houses {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := r.ReconcileHouse(ctx, h.ID); err != nil {
			r.log.Error("RECONCILE", fmt.Sprintf("House %s skipped: %v", h.ID, err))
		}
	}
	return nil
}

// ReconcileHouse reports whether the fast store was corrected. A house whose
// lock is held elsewhere is skipped without error.
func (r *Reconciler) ReconcileHouse(ctx context.Context, houseID string) (bool, error) {
	token, ok, err := r.locker.AcquireHouseLock(ctx, houseID, r.lockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.LogWorker("reconciler", fmt.Sprintf("House %s locked by another instance, skipping", houseID))
		return false, nil
	}
	defer func() {
		if err := r.locker.ReleaseHouseLock(context.WithoutCancel(ctx), houseID, token); err != nil {
			r.log.Warn("RECONCILE", fmt.Sprintf("Failed to release lock of house %s: %v", houseID, err))
		}
	}()

	changed := false
	err = r.store.RunInTx(ctx, func(txCtx context.Context) error {
		changed = false
		durable, err := r.durable.Snapshot(txCtx, houseID)
		if err != nil {
			return err
		}
		if !durable.Valid() {
			return fmt.Errorf("%w: house %s durable counters %+v", services.ErrConsistency, houseID, durable)
		}

		current, err := r.fast.Counters(txCtx, houseID)
		if err != nil {
			return err
		}
		if !current.Equal(durable) {
			ok, err := r.fast.Overwrite(txCtx, houseID, durable)
			if err != nil {
				return err
			}
			if !ok {
				return errOverwriteRejected
			}
			changed = true
			r.log.LogWorker("reconciler", fmt.Sprintf("House %s corrected from %+v to %+v", houseID, current, durable))
		}

		return r.syncParticipants(txCtx, houseID)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (r *Reconciler) syncParticipants(ctx context.Context, houseID string) error {
	want, err := r.durable.ParticipantIDs(ctx, houseID)
	if err != nil {
		return err
	}
	have, err := r.fast.Participants(ctx, houseID)
	if err != nil {
		return err
	}
	if sameMembers(want, have) {
		return nil
	}
	r.log.LogWorker("reconciler", fmt.Sprintf("House %s participants rebuilt: %d -> %d", houseID, len(have), len(want)))
	return r.fast.SyncParticipants(ctx, houseID, want)
}

// sameMembers compares two sorted id lists.
func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
