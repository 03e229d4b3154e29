package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/handlers"
	"lottery-reservation/internal/kafka"
	"lottery-reservation/internal/logger"
	rediswrap "lottery-reservation/internal/redis"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/storage"
	"lottery-reservation/internal/workers"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("ENV", "Error loading .env file, using environment variables")
	}

	log.LogProcess("STARTUP", "Lottery reservation service starting up...")
	cfg := config.Load()
	log.Info("CONFIG", "Configuration loaded successfully")

	log.LogProcess("DATABASE", "Initializing MySQL database...")
	store, err := storage.NewMySQLStore(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", "Failed to initialize MySQL: "+err.Error())
	}
	defer store.Close()
	log.LogDatabase("INIT", "mysql", "MySQL storage initialized successfully")

	log.LogProcess("REDIS", "Connecting to Redis at "+cfg.Redis.Addr)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Reservations fail closed until Redis is reachable.
		log.Error("REDIS", "Redis ping failed: "+err.Error())
	} else {
		log.LogRedis("CONNECTED", cfg.Redis.Addr, "Redis connection successful")
	}
	cancelPing()

	fastRedis := rediswrap.NewRedis(redisClient, log, cfg.Redis.OpTimeout)
	durable := services.NewDurableInventory(store)
	fast := rediswrap.NewInventoryStore(fastRedis, durable, cfg.Reservation.HoldMarkerTTL)
	queue := rediswrap.NewWorkQueue(fastRedis, cfg.Workers.FinalizerQueue, cfg.Workers.FinalizerVisibility)
	retries := rediswrap.NewRetryCounter(fastRedis, cfg.Workers.FinalizerQueue, cfg.Workers.FinalizerRetryTTL)

	log.LogProcess("KAFKA", "Initializing Kafka producer...")
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MockMode, log)
	if err != nil {
		log.Fatal("KAFKA", "Failed to create Kafka producer: "+err.Error())
	}
	defer producer.Close()

	var gateway services.PaymentGateway
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY not set, using the mock payment gateway")
		gateway = services.NewMockGateway(log)
	} else {
		stripeGateway, err := services.NewStripeGateway(cfg.Stripe.SecretKey, log)
		if err != nil {
			log.Fatal("STRIPE", "Failed to initialize Stripe gateway: "+err.Error())
		}
		gateway = stripeGateway
	}

	tickets := services.NewTicketService(store, fast, log)
	reservations := services.NewReservationService(services.ReservationDeps{
		Store:     store,
		Fast:      fast,
		Limiter:   fastRedis,
		Verifier:  fastRedis,
		Publisher: producer,
		Queue:     queue,
		Tickets:   tickets,
	}, cfg.Reservation, log)
	payments := services.NewPaymentService(store, reservations, gateway, nil, cfg.Stripe.Currency, log)
	inventory := services.NewInventoryService(durable, fast, log)
	log.LogProcess("SERVICE", "Reservation services initialized")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	supervisor := workers.NewSupervisor(log)
	reconciler := workers.NewReconciler(store, durable, fast, fastRedis, cfg.Workers.ReconcileLockTTL, log)
	sweeper := workers.NewSweeper(store, fast, producer, cfg.Workers.SweepBatchSize, log)
	finalizer := workers.NewFinalizer(queue, retries, payments, workers.FinalizerConfig{
		Wait:       cfg.Workers.FinalizerWait,
		BatchSize:  cfg.Workers.FinalizerBatchSize,
		MaxRetries: cfg.Workers.FinalizerMaxRetries,
	}, log)
	countdown := workers.NewCountdown(store, inventory, producer, log)
	supervisor.Start(ctx,
		workers.Loop{Name: "reconciler", Interval: cfg.Workers.ReconcileInterval, Run: reconciler.Run},
		workers.Loop{Name: "sweeper", Interval: cfg.Workers.SweepInterval, Run: sweeper.Run},
		workers.Loop{Name: "finalizer", Run: finalizer.Run},
		workers.Loop{Name: "countdown", Interval: cfg.Workers.CountdownInterval, Run: countdown.Run},
	)

	if cfg.Kafka.MockMode {
		log.LogKafka("MOCK_MODE", cfg.Kafka.PaymentTopic, "Payment consumer disabled in mock mode")
	} else {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.PaymentTopic, log)
		if err != nil {
			log.Fatal("KAFKA", "Failed to create Kafka consumer: "+err.Error())
		}
		defer consumer.Close()
		go func() {
			log.LogKafka("START", cfg.Kafka.PaymentTopic, "Starting Kafka consumer goroutine")
			if err := consumer.ConsumePayments(ctx, payments.ProcessPaymentEvent); err != nil && ctx.Err() == nil {
				log.Error("KAFKA", "Consumer error: "+err.Error())
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(cfg.Server, log,
		handlers.NewReservationHandler(reservations, payments, log),
		handlers.NewInventoryHandler(inventory, tickets, log),
		map[string]handlers.HealthCheck{
			"mysql": store.HealthCheck,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.LogProcess("SERVER", "Starting HTTP server on port "+cfg.Server.Port)
		log.Info("STARTUP", "🎟️  Lottery reservation service is ready to accept requests!")
		log.Info("STARTUP", "📊 Health check available at: http://localhost"+cfg.Server.Port+"/health")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", "Server failed to start: "+err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("SHUTDOWN", "Received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("SHUTDOWN", "Server forced to shutdown: "+err.Error())
	}
	stop()
	supervisor.Wait()

	log.Info("SHUTDOWN", "✅ Lottery reservation service shutdown completed successfully")
}
