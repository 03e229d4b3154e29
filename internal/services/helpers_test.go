package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	rediswrap "lottery-reservation/internal/redis"
	"lottery-reservation/internal/storage"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.ReservationEvent
}

func (p *recordingPublisher) PublishReservationEvent(event *models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingQueue struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (q *recordingQueue) Send(ctx context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, body)
	return "msg", nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bodies)
}

type verifierFunc func(userID string) bool

func (f verifierFunc) CheckVerified(ctx context.Context, userID string) (bool, error) {
	return f(userID), nil
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	args := m.Called(req.IdempotencyKey, req.Amount)
	res, _ := args.Get(0).(*models.ChargeResult)
	return res, args.Error(1)
}

type mockPricer struct{ mock.Mock }

func (m *mockPricer) Validate(ctx context.Context, code, userID, houseID string, amount float64) (*models.PromotionValidation, error) {
	args := m.Called(code, amount)
	res, _ := args.Get(0).(*models.PromotionValidation)
	return res, args.Error(1)
}

func (m *mockPricer) Apply(ctx context.Context, code, userID, reservationID string, discount float64) error {
	return m.Called(code, discount).Error(0)
}

// faultyStore injects write failures into the in-memory store.
type faultyStore struct {
	*storage.InMemoryStore
	failCreateReservation bool
	ticketFailures        int32
}

func (f *faultyStore) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if f.failCreateReservation {
		return errors.New("disk full")
	}
	return f.InMemoryStore.CreateReservation(ctx, r)
}

func (f *faultyStore) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	if atomic.AddInt32(&f.ticketFailures, -1) >= 0 {
		return errors.New("lock wait timeout")
	}
	return f.InMemoryStore.CreateTickets(ctx, tickets)
}

type testEnv struct {
	store     *faultyStore
	redis     *rediswrap.Redis
	fast      *rediswrap.InventoryStore
	publisher *recordingPublisher
	queue     *recordingQueue
	pricer    PromotionPricer
	gateway   PaymentGateway
	cfg       config.ReservationConfig
	log       *logger.Logger

	reservations *ReservationService
	payments     *PaymentService
	inventory    *InventoryService
}

func testReservationConfig() config.ReservationConfig {
	return config.ReservationConfig{
		TTL:                 15 * time.Minute,
		HoldMarkerTTL:       24 * time.Hour,
		MaxQuantity:         50,
		UserRateLimit:       100,
		UserRateWindow:      time.Minute,
		UserHouseRateLimit:  100,
		UserHouseRateWindow: 10 * time.Minute,
		RequireVerification: true,
	}
}

type envOption func(*testEnv)

func withPricer(p PromotionPricer) envOption { return func(e *testEnv) { e.pricer = p } }

func withGateway(g PaymentGateway) envOption { return func(e *testEnv) { e.gateway = g } }

func withConfig(fn func(*config.ReservationConfig)) envOption {
	return func(e *testEnv) { fn(&e.cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.New(io.Discard, logger.LevelError)
	env := &testEnv{
		store:     &faultyStore{InMemoryStore: storage.NewInMemoryStore()},
		redis:     rediswrap.NewRedis(client, log, time.Second),
		publisher: &recordingPublisher{},
		queue:     &recordingQueue{},
		cfg:       testReservationConfig(),
		log:       log,
	}
	env.gateway = NewMockGateway(log)
	for _, opt := range opts {
		opt(env)
	}

	durable := NewDurableInventory(env.store)
	env.fast = rediswrap.NewInventoryStore(env.redis, durable, env.cfg.HoldMarkerTTL)
	env.inventory = NewInventoryService(durable, env.fast, log)
	env.inventory.now = func() time.Time { return testNow }

	env.reservations = NewReservationService(ReservationDeps{
		Store:     env.store,
		Fast:      env.fast,
		Limiter:   env.redis,
		Verifier:  verifierFunc(func(userID string) bool { return userID != "unverified" }),
		Pricer:    env.pricer,
		Publisher: env.publisher,
		Queue:     env.queue,
	}, env.cfg, log, WithClock(func() time.Time { return testNow }))
	env.payments = NewPaymentService(env.store, env.reservations, env.gateway, env.pricer, "usd", log)
	return env
}

func (e *testEnv) addHouse(t *testing.T, id string, total, maxParticipants int) *models.House {
	t.Helper()
	house := &models.House{
		ID:               id,
		Title:            "House " + id,
		TotalTickets:     total,
		TicketPrice:      5,
		MaxParticipants:  maxParticipants,
		Status:           models.HouseStatusActive,
		LotteryStartDate: testNow.Add(-24 * time.Hour),
		LotteryEndDate:   testNow.Add(24 * time.Hour),
		CreatedAt:        testNow.Add(-48 * time.Hour),
	}
	require.NoError(t, e.store.SaveHouse(context.Background(), house))
	return house
}

func (e *testEnv) counters(t *testing.T, houseID string) models.InventorySnapshot {
	t.Helper()
	snap, err := e.fast.Counters(context.Background(), houseID)
	require.NoError(t, err)
	return snap
}
