package workers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	rediswrap "lottery-reservation/internal/redis"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/storage"
)

type recordingPublisher struct {
	mu         sync.Mutex
	events     []*models.ReservationEvent
	countdowns []*models.HouseCountdownEvent
}

func (p *recordingPublisher) PublishReservationEvent(event *models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishCountdown(event *models.HouseCountdownEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.countdowns = append(p.countdowns, event)
	return nil
}

type workerEnv struct {
	store   *storage.InMemoryStore
	redis   *rediswrap.Redis
	durable *services.DurableInventory
	fast    *rediswrap.InventoryStore
	log     *logger.Logger
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.New(io.Discard, logger.LevelError)
	store := storage.NewInMemoryStore()
	r := rediswrap.NewRedis(client, log, time.Second)
	durable := services.NewDurableInventory(store)
	return &workerEnv{
		store:   store,
		redis:   r,
		durable: durable,
		fast:    rediswrap.NewInventoryStore(r, durable, time.Hour),
		log:     log,
	}
}

func (e *workerEnv) addHouse(t *testing.T, id string, total int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.store.SaveHouse(context.Background(), &models.House{
		ID:               id,
		Title:            "House " + id,
		TotalTickets:     total,
		TicketPrice:      5,
		Status:           models.HouseStatusActive,
		LotteryStartDate: now.Add(-time.Hour),
		LotteryEndDate:   now.Add(time.Hour),
		CreatedAt:        now.Add(-2 * time.Hour),
	}))
}

func (e *workerEnv) addTickets(t *testing.T, houseID, userID, paymentID string, n int) {
	t.Helper()
	tickets := make([]*models.Ticket, n)
	for i := range tickets {
		tickets[i] = &models.Ticket{
			ID:            fmt.Sprintf("%s-%d", paymentID, i),
			HouseID:       houseID,
			UserID:        userID,
			TicketNumber:  fmt.Sprintf("%s-%s-%d", houseID, paymentID, i),
			PurchasePrice: 5,
			Status:        models.TicketActive,
			PaymentID:     paymentID,
			BatchIndex:    i,
			CreatedAt:     time.Now().UTC(),
		}
	}
	require.NoError(t, e.store.CreateTickets(context.Background(), tickets))
}

func (e *workerEnv) addReservation(t *testing.T, id, houseID, userID string, qty int, expiresAt time.Time) *models.Reservation {
	t.Helper()
	r := &models.Reservation{
		ID:               id,
		HouseID:          houseID,
		UserID:           userID,
		Quantity:         qty,
		TotalPrice:       float64(qty) * 5,
		Status:           models.ReservationPending,
		ReservationToken: "tok-" + id,
		ExpiresAt:        expiresAt,
		CreatedAt:        expiresAt.Add(-15 * time.Minute),
		UpdatedAt:        expiresAt.Add(-15 * time.Minute),
	}
	require.NoError(t, e.store.CreateReservation(context.Background(), r))
	return r
}
