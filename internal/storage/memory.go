package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"lottery-reservation/internal/models"
)

type memTxKey struct{}

// InMemoryStore implements Store with maps guarded by one mutex. A
// transaction holds the mutex for its whole duration, which makes it
// trivially serializable, and restores a snapshot when fn fails.
type InMemoryStore struct {
	mutex        sync.Mutex
	houses       map[string]*models.House
	reservations map[string]*models.Reservation
	tickets      map[string]*models.Ticket
	audits       []*models.AuditRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		houses:       make(map[string]*models.House),
		reservations: make(map[string]*models.Reservation),
		tickets:      make(map[string]*models.Ticket),
	}
}

func (s *InMemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.mutex.Lock()
	return s.mutex.Unlock
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	houses := cloneMap(s.houses)
	reservations := cloneMap(s.reservations)
	tickets := cloneMap(s.tickets)
	audits := append([]*models.AuditRecord(nil), s.audits...)

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.houses, s.reservations, s.tickets, s.audits = houses, reservations, tickets, audits
		return err
	}
	return nil
}

func cloneMap[T any](in map[string]*T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func (s *InMemoryStore) SaveHouse(ctx context.Context, house *models.House) error {
	defer s.lock(ctx)()
	c := *house
	if existing, ok := s.houses[house.ID]; ok {
		c.TicketSequence = existing.TicketSequence
	}
	s.houses[house.ID] = &c
	return nil
}

func (s *InMemoryStore) GetHouse(ctx context.Context, id string) (*models.House, error) {
	defer s.lock(ctx)()
	house, ok := s.houses[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *house
	return &c, nil
}

func (s *InMemoryStore) ListActiveHouses(ctx context.Context, now time.Time) ([]*models.House, error) {
	defer s.lock(ctx)()
	var houses []*models.House
	for _, h := range s.houses {
		if h.IsActive() && h.LotteryEndDate.After(now) {
			c := *h
			houses = append(houses, &c)
		}
	}
	sort.Slice(houses, func(i, j int) bool { return houses[i].LotteryEndDate.Before(houses[j].LotteryEndDate) })
	return houses, nil
}

func (s *InMemoryStore) AllocateTicketSequence(ctx context.Context, houseID string, n int) (int64, error) {
	defer s.lock(ctx)()
	house, ok := s.houses[houseID]
	if !ok {
		return 0, ErrNotFound
	}
	start := house.TicketSequence + 1
	house.TicketSequence += int64(n)
	return start, nil
}

func (s *InMemoryStore) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	defer s.lock(ctx)()
	if _, ok := s.reservations[reservation.ID]; ok {
		return ErrDuplicate
	}
	for _, r := range s.reservations {
		if r.ReservationToken == reservation.ReservationToken {
			return ErrDuplicate
		}
	}
	c := *reservation
	s.reservations[reservation.ID] = &c
	return nil
}

func (s *InMemoryStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	defer s.lock(ctx)()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *InMemoryStore) ListUserReservations(ctx context.Context, userID string, limit, offset int) ([]*models.Reservation, int, error) {
	defer s.lock(ctx)()
	var all []*models.Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			c := *r
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*models.Reservation{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *InMemoryStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	defer s.lock(ctx)()
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.IsPending() && r.ExpiresAt.Before(now) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) TransitionReservation(ctx context.Context, id string, status models.ReservationStatus, update ReservationUpdate) (bool, error) {
	defer s.lock(ctx)()
	r, ok := s.reservations[id]
	if !ok || !r.IsPending() {
		return false, nil
	}
	processed := update.ProcessedAt
	r.Status = status
	r.ProcessedAt = &processed
	r.UpdatedAt = processed
	if update.PaymentTransactionID != "" {
		r.PaymentTransactionID = update.PaymentTransactionID
	}
	if update.ErrorMessage != "" {
		r.ErrorMessage = update.ErrorMessage
	}
	return true, nil
}

func (s *InMemoryStore) ExpireReservations(ctx context.Context, ids []string, now time.Time) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, id := range ids {
		r, ok := s.reservations[id]
		if !ok || !r.IsPending() {
			continue
		}
		processed := now
		r.Status = models.ReservationExpired
		r.ProcessedAt = &processed
		r.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *InMemoryStore) RecordPaymentTransaction(ctx context.Context, id, transactionID string) error {
	defer s.lock(ctx)()
	if r, ok := s.reservations[id]; ok && r.IsPending() {
		r.PaymentTransactionID = transactionID
		r.ErrorMessage = ""
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryStore) RecordReservationError(ctx context.Context, id, message string) error {
	defer s.lock(ctx)()
	if r, ok := s.reservations[id]; ok && r.IsPending() {
		r.ErrorMessage = message
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryStore) SumPendingQuantity(ctx context.Context, houseID string) (int, error) {
	defer s.lock(ctx)()
	total := 0
	for _, r := range s.reservations {
		if r.HouseID == houseID && r.IsPending() {
			total += r.Quantity
		}
	}
	return total, nil
}

func (s *InMemoryStore) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	defer s.lock(ctx)()
	for _, t := range tickets {
		for _, existing := range s.tickets {
			if (existing.HouseID == t.HouseID && existing.TicketNumber == t.TicketNumber) ||
				(existing.PaymentID == t.PaymentID && existing.BatchIndex == t.BatchIndex) {
				return ErrDuplicate
			}
		}
	}
	for _, t := range tickets {
		c := *t
		s.tickets[t.ID] = &c
	}
	return nil
}

func (s *InMemoryStore) GetTicketsByPayment(ctx context.Context, paymentID string) ([]*models.Ticket, error) {
	defer s.lock(ctx)()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.PaymentID == paymentID && t.Status == models.TicketActive {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out, nil
}

func (s *InMemoryStore) CountActiveTickets(ctx context.Context, houseID string) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, t := range s.tickets {
		if t.HouseID == houseID && t.Status == models.TicketActive {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) IsParticipant(ctx context.Context, houseID, userID string) (bool, error) {
	defer s.lock(ctx)()
	for _, t := range s.tickets {
		if t.HouseID == houseID && t.UserID == userID && t.Status == models.TicketActive {
			return true, nil
		}
	}
	for _, r := range s.reservations {
		if r.HouseID == houseID && r.UserID == userID && r.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListParticipantIDs(ctx context.Context, houseID string) ([]string, error) {
	defer s.lock(ctx)()
	var holders, pending []string
	for _, t := range s.tickets {
		if t.HouseID == houseID && t.Status == models.TicketActive {
			holders = append(holders, t.UserID)
		}
	}
	for _, r := range s.reservations {
		if r.HouseID == houseID && r.IsPending() {
			pending = append(pending, r.UserID)
		}
	}
	ids := mergeDistinct(holders, pending)
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	defer s.lock(ctx)()
	c := *record
	s.audits = append(s.audits, &c)
	return nil
}

// AuditRecords returns a copy of the stored audit records.
func (s *InMemoryStore) AuditRecords() []*models.AuditRecord {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*models.AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *InMemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
