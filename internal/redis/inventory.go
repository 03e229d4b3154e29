package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"lottery-reservation/internal/models"
)

// ErrInvalidSnapshot is returned when counters handed to the store do not
// satisfy the inventory invariants.
var ErrInvalidSnapshot = errors.New("inventory snapshot violates invariants")

// InventorySource recomputes a house's counters and participants from durable
// storage. It seeds keys that are missing from Redis.
type InventorySource interface {
	Snapshot(ctx context.Context, houseID string) (models.InventorySnapshot, error)
	ParticipantIDs(ctx context.Context, houseID string) ([]string, error)
}

// InventoryStore keeps the fast counters for every house. Each operation is a
// single Lua script so concurrent callers never observe a partial update.
type InventoryStore struct {
	*Redis
	source  InventorySource
	holdTTL time.Duration
}

func NewInventoryStore(r *Redis, source InventorySource, holdTTL time.Duration) *InventoryStore {
	if holdTTL <= 0 {
		holdTTL = 24 * time.Hour
	}
	return &InventoryStore{Redis: r, source: source, holdTTL: holdTTL}
}

func inventoryKey(houseID string) string {
	return fmt.Sprintf("house:{%s}:inventory", houseID)
}

func participantsKey(houseID string) string {
	return fmt.Sprintf("house:{%s}:participants", houseID)
}

func participantCountKey(houseID string) string {
	return fmt.Sprintf("house:{%s}:participant_count", houseID)
}

func holdKey(houseID, token string) string {
	return fmt.Sprintf("house:{%s}:hold:%s", houseID, token)
}

// Script results. A cold key means the hash has not been seeded yet.
const (
	resultCold    = -1
	resultDenied  = 0
	resultApplied = 1
	resultNoop    = 2
)

var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 1 end
local qty = tonumber(ARGV[1])
if qty == nil or qty <= 0 then return 0 end
local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if available < qty or reserved < 0 then return 0 end
redis.call('HINCRBY', KEYS[1], 'available', -qty)
redis.call('HINCRBY', KEYS[1], 'reserved', qty)
redis.call('SET', KEYS[2], qty, 'PX', ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if ARGV[2] == '1' then
	if redis.call('DEL', KEYS[2]) == 0 then return 2 end
end
local qty = tonumber(ARGV[1])
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local sold = tonumber(redis.call('HGET', KEYS[1], 'sold') or '0')
local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local newReserved = reserved - qty
if newReserved < 0 then newReserved = 0 end
local newAvailable = available + qty
local ceiling = total - sold - newReserved
if newAvailable > ceiling then newAvailable = ceiling end
if newAvailable < 0 then newAvailable = 0 end
redis.call('HSET', KEYS[1], 'available', newAvailable, 'reserved', newReserved)
return 1
`)

var commitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('DEL', KEYS[2]) == 0 then return 2 end
local qty = tonumber(ARGV[1])
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local sold = tonumber(redis.call('HGET', KEYS[1], 'sold') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved < qty or sold + qty > total then return 0 end
redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
redis.call('HINCRBY', KEYS[1], 'sold', qty)
return 1
`)

var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'total', ARGV[1], 'available', ARGV[2], 'reserved', ARGV[3], 'sold', ARGV[4])
return 1
`)

var overwriteScript = redis.NewScript(`
local total = tonumber(ARGV[1])
local available = tonumber(ARGV[2])
local reserved = tonumber(ARGV[3])
local sold = tonumber(ARGV[4])
if total == nil or available == nil or reserved == nil or sold == nil then return 0 end
if total < 0 or available < 0 or reserved < 0 or sold < 0 then return 0 end
if sold + reserved > total or available ~= total - sold - reserved then return 0 end
redis.call('HSET', KEYS[1], 'total', total, 'available', available, 'reserved', reserved, 'sold', sold)
return 1
`)

var checkCapScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max <= 0 then return 1 end
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then return 1 end
local count = tonumber(redis.call('GET', KEYS[2]) or '0')
if count < max then return 1 end
return 0
`)

var addParticipantScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then return 2 end
local max = tonumber(ARGV[2])
local count = redis.call('INCR', KEYS[2])
if max > 0 and count > max then
	redis.call('DECR', KEYS[2])
	return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

var removeParticipantScript = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then return 2 end
if tonumber(redis.call('GET', KEYS[2]) or '0') > 0 then
	redis.call('DECR', KEYS[2])
end
return 1
`)

// syncParticipantsScript replaces the set. With ARGV[1] == '1' it only seeds
// when the counter key is absent.
var syncParticipantsScript = redis.NewScript(`
if ARGV[1] == '1' and redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV do
	redis.call('SADD', KEYS[1], ARGV[i])
end
redis.call('SET', KEYS[2], #ARGV - 1)
return 1
`)

// Reserve moves qty tickets from available to reserved. A token that already
// holds tickets succeeds without changing the counters.
func (s *InventoryStore) Reserve(ctx context.Context, houseID string, qty int, token string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys := []string{inventoryKey(houseID), holdKey(houseID, token)}
	res, err := s.runWarm(ctx, houseID, func() (int, error) {
		return reserveScript.Run(ctx, s.Client, keys, qty, s.holdTTL.Milliseconds()).Int()
	})
	if err != nil {
		return false, fmt.Errorf("reserve %d tickets on house %s: %w", qty, houseID, err)
	}
	s.log.LogRedis("RESERVE", keys[0], fmt.Sprintf("qty=%d token=%s result=%d", qty, token, res))
	return res == resultApplied, nil
}

// Release gives qty reserved tickets back. With a token, only the first call
// for that token has an effect; the bool reports whether counters changed.
// An empty token releases unconditionally.
func (s *InventoryStore) Release(ctx context.Context, houseID string, qty int, token string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	useToken := "1"
	if token == "" {
		useToken, token = "0", "_"
	}
	keys := []string{inventoryKey(houseID), holdKey(houseID, token)}
	res, err := releaseScript.Run(ctx, s.Client, keys, qty, useToken).Int()
	if err != nil {
		return false, fmt.Errorf("release %d tickets on house %s: %w", qty, houseID, err)
	}
	if res == resultCold {
		s.log.LogRedis("RELEASE", keys[0], "key not seeded, nothing to release")
		return false, nil
	}
	s.log.LogRedis("RELEASE", keys[0], fmt.Sprintf("qty=%d result=%d", qty, res))
	return res == resultApplied, nil
}

// Commit turns a token's reserved tickets into sold ones.
func (s *InventoryStore) Commit(ctx context.Context, houseID string, qty int, token string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys := []string{inventoryKey(houseID), holdKey(houseID, token)}
	res, err := commitScript.Run(ctx, s.Client, keys, qty).Int()
	if err != nil {
		return false, fmt.Errorf("commit %d tickets on house %s: %w", qty, houseID, err)
	}
	switch res {
	case resultDenied:
		s.log.Warn("REDIS", fmt.Sprintf("Commit of %d tickets on house %s skipped, counters drifted", qty, houseID))
	case resultCold:
		s.log.LogRedis("COMMIT", keys[0], "key not seeded, nothing to commit")
	}
	return res == resultApplied, nil
}

// Counters returns the current fast counters, seeding them from durable
// storage when the key is cold.
func (s *InventoryStore) Counters(ctx context.Context, houseID string) (models.InventorySnapshot, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	snap, ok, err := s.readCounters(ctx, houseID)
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	if ok {
		return snap, nil
	}
	if err := s.seed(ctx, houseID); err != nil {
		return models.InventorySnapshot{}, err
	}
	snap, ok, err = s.readCounters(ctx, houseID)
	if err != nil {
		return models.InventorySnapshot{}, err
	}
	if !ok {
		return models.InventorySnapshot{}, fmt.Errorf("inventory for house %s missing after seeding", houseID)
	}
	return snap, nil
}

func (s *InventoryStore) GetAvailable(ctx context.Context, houseID string) (int, error) {
	snap, err := s.Counters(ctx, houseID)
	if err != nil {
		return 0, err
	}
	return snap.Available, nil
}

func (s *InventoryStore) readCounters(ctx context.Context, houseID string) (models.InventorySnapshot, bool, error) {
	fields, err := s.Client.HGetAll(ctx, inventoryKey(houseID)).Result()
	if err != nil {
		return models.InventorySnapshot{}, false, fmt.Errorf("read inventory of house %s: %w", houseID, err)
	}
	if len(fields) == 0 {
		return models.InventorySnapshot{}, false, nil
	}
	var snap models.InventorySnapshot
	for name, dst := range map[string]*int{
		"total":     &snap.Total,
		"available": &snap.Available,
		"reserved":  &snap.Reserved,
		"sold":      &snap.Sold,
	} {
		v, err := strconv.Atoi(fields[name])
		if err != nil {
			return models.InventorySnapshot{}, false, fmt.Errorf("inventory field %s of house %s: %w", name, houseID, err)
		}
		*dst = v
	}
	return snap, true, nil
}

// Overwrite replaces all four counters. It reports false and writes nothing
// when the snapshot violates the inventory invariants.
func (s *InventoryStore) Overwrite(ctx context.Context, houseID string, snap models.InventorySnapshot) (bool, error) {
	if !snap.Valid() {
		return false, nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	res, err := overwriteScript.Run(ctx, s.Client, []string{inventoryKey(houseID)},
		snap.Total, snap.Available, snap.Reserved, snap.Sold).Int()
	if err != nil {
		return false, fmt.Errorf("overwrite inventory of house %s: %w", houseID, err)
	}
	if res != resultApplied {
		return false, nil
	}
	s.log.LogRedis("OVERWRITE", inventoryKey(houseID), fmt.Sprintf("%+v", snap))
	return true, nil
}

// GetStatus combines the fast counters with the house's lottery window.
func (s *InventoryStore) GetStatus(ctx context.Context, house *models.House, now time.Time) (*models.InventoryStatus, error) {
	snap, err := s.Counters(ctx, house.ID)
	if err != nil {
		return nil, err
	}
	remaining := house.LotteryEndDate.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &models.InventoryStatus{
		HouseID:       house.ID,
		Total:         snap.Total,
		Available:     snap.Available,
		Reserved:      snap.Reserved,
		Sold:          snap.Sold,
		TimeRemaining: remaining,
		IsSoldOut:     snap.Available == 0,
		IsEnded:       house.HasEnded(now),
	}, nil
}

// CheckParticipantCap reports whether userID may take part in the house:
// there is no cap, the user already participates, or a slot is left.
func (s *InventoryStore) CheckParticipantCap(ctx context.Context, houseID, userID string, max int) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys := []string{participantsKey(houseID), participantCountKey(houseID)}
	res, err := s.runWarmParticipants(ctx, houseID, func() (int, error) {
		return checkCapScript.Run(ctx, s.Client, keys, userID, max).Int()
	})
	if err != nil {
		return false, fmt.Errorf("check participant cap of house %s: %w", houseID, err)
	}
	return res == resultApplied, nil
}

// AddParticipant registers userID, refusing when the cap is already reached.
// Existing participants always succeed; added reports whether userID was new.
func (s *InventoryStore) AddParticipant(ctx context.Context, houseID, userID string, max int) (ok, added bool, err error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys := []string{participantsKey(houseID), participantCountKey(houseID)}
	res, err := s.runWarmParticipants(ctx, houseID, func() (int, error) {
		return addParticipantScript.Run(ctx, s.Client, keys, userID, max).Int()
	})
	if err != nil {
		return false, false, fmt.Errorf("add participant to house %s: %w", houseID, err)
	}
	s.log.LogRedis("PARTICIPANT", keys[0], fmt.Sprintf("user=%s result=%d", userID, res))
	return res != resultDenied, res == resultApplied, nil
}

// RemoveParticipant undoes an AddParticipant that added userID.
func (s *InventoryStore) RemoveParticipant(ctx context.Context, houseID, userID string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	keys := []string{participantsKey(houseID), participantCountKey(houseID)}
	res, err := removeParticipantScript.Run(ctx, s.Client, keys, userID).Int()
	if err != nil {
		return false, fmt.Errorf("remove participant from house %s: %w", houseID, err)
	}
	return res == resultApplied, nil
}

func (s *InventoryStore) IsParticipant(ctx context.Context, houseID, userID string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.ensureParticipants(ctx, houseID); err != nil {
		return false, err
	}
	ok, err := s.Client.SIsMember(ctx, participantsKey(houseID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("check participant of house %s: %w", houseID, err)
	}
	return ok, nil
}

func (s *InventoryStore) ParticipantCount(ctx context.Context, houseID string) (int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.ensureParticipants(ctx, houseID); err != nil {
		return 0, err
	}
	n, err := s.Client.Get(ctx, participantCountKey(houseID)).Int()
	if err != nil {
		return 0, fmt.Errorf("read participant count of house %s: %w", houseID, err)
	}
	return n, nil
}

// Participants lists the participant set in sorted order.
func (s *InventoryStore) Participants(ctx context.Context, houseID string) ([]string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.ensureParticipants(ctx, houseID); err != nil {
		return nil, err
	}
	ids, err := s.Client.SMembers(ctx, participantsKey(houseID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants of house %s: %w", houseID, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// SyncParticipants replaces the participant set and count with userIDs.
func (s *InventoryStore) SyncParticipants(ctx context.Context, houseID string, userIDs []string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.writeParticipants(ctx, houseID, userIDs, false)
}

func (s *InventoryStore) writeParticipants(ctx context.Context, houseID string, userIDs []string, onlyIfAbsent bool) error {
	flag := "0"
	if onlyIfAbsent {
		flag = "1"
	}
	args := make([]interface{}, 0, len(userIDs)+1)
	args = append(args, flag)
	for _, id := range userIDs {
		args = append(args, id)
	}
	keys := []string{participantsKey(houseID), participantCountKey(houseID)}
	if err := syncParticipantsScript.Run(ctx, s.Client, keys, args...).Err(); err != nil {
		return fmt.Errorf("sync participants of house %s: %w", houseID, err)
	}
	return nil
}

// runWarm runs op, seeding the inventory and retrying once when the key is cold.
func (s *InventoryStore) runWarm(ctx context.Context, houseID string, op func() (int, error)) (int, error) {
	res, err := op()
	if err != nil || res != resultCold {
		return res, err
	}
	if err := s.seed(ctx, houseID); err != nil {
		return 0, err
	}
	res, err = op()
	if err == nil && res == resultCold {
		return 0, fmt.Errorf("inventory for house %s missing after seeding", houseID)
	}
	return res, err
}

func (s *InventoryStore) runWarmParticipants(ctx context.Context, houseID string, op func() (int, error)) (int, error) {
	res, err := op()
	if err != nil || res != resultCold {
		return res, err
	}
	if err := s.seedParticipants(ctx, houseID); err != nil {
		return 0, err
	}
	res, err = op()
	if err == nil && res == resultCold {
		return 0, fmt.Errorf("participants for house %s missing after seeding", houseID)
	}
	return res, err
}

func (s *InventoryStore) seed(ctx context.Context, houseID string) error {
	if s.source == nil {
		return fmt.Errorf("inventory for house %s is not initialised", houseID)
	}
	snap, err := s.source.Snapshot(ctx, houseID)
	if err != nil {
		return fmt.Errorf("recompute inventory of house %s: %w", houseID, err)
	}
	if !snap.Valid() {
		return fmt.Errorf("durable inventory of house %s %+v: %w", houseID, snap, ErrInvalidSnapshot)
	}
	seeded, err := seedScript.Run(ctx, s.Client, []string{inventoryKey(houseID)},
		snap.Total, snap.Available, snap.Reserved, snap.Sold).Int()
	if err != nil {
		return fmt.Errorf("seed inventory of house %s: %w", houseID, err)
	}
	s.log.LogRedis("SEED", inventoryKey(houseID), fmt.Sprintf("%+v seeded=%t", snap, seeded == 1))
	return nil
}

func (s *InventoryStore) seedParticipants(ctx context.Context, houseID string) error {
	if s.source == nil {
		return fmt.Errorf("participants for house %s are not initialised", houseID)
	}
	ids, err := s.source.ParticipantIDs(ctx, houseID)
	if err != nil {
		return fmt.Errorf("recompute participants of house %s: %w", houseID, err)
	}
	return s.writeParticipants(ctx, houseID, ids, true)
}

func (s *InventoryStore) ensureParticipants(ctx context.Context, houseID string) error {
	n, err := s.Client.Exists(ctx, participantCountKey(houseID)).Result()
	if err != nil {
		return fmt.Errorf("check participants of house %s: %w", houseID, err)
	}
	if n == 1 {
		return nil
	}
	return s.seedParticipants(ctx, houseID)
}

// Seed initialises a house's counters and participants from durable storage
// if they are absent.
func (s *InventoryStore) Seed(ctx context.Context, houseID string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.seed(ctx, houseID); err != nil {
		return err
	}
	return s.ensureParticipants(ctx, houseID)
}
