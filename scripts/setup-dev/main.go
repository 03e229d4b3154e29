package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/models"
	rediswrap "lottery-reservation/internal/redis"
	"lottery-reservation/internal/storage"
)

// Starts the backing services and seeds a demo house with verified users.
func main() {
	skipDocker := flag.Bool("skip-docker", false, "Do not start docker-compose services")
	houseID := flag.String("house", "demo-house-0001", "Id of the demo house to create")
	tickets := flag.Int("tickets", 1000, "Total tickets of the demo house")
	users := flag.Int("users", 5, "Number of verified demo users (demo-user-N)")
	flag.Parse()

	fmt.Println("🚀 Setting up Lottery Reservation Development Environment")
	_ = godotenv.Load()

	if !*skipDocker {
		if err := checkDocker(); err != nil {
			fmt.Printf("⚠️  Docker issue detected: %v\n", err)
			fmt.Println("💡 Start MySQL, Redis and Kafka yourself and rerun with -skip-docker")
			return
		}

		fmt.Println("✅ Docker is running")
		fmt.Println("🐳 Starting MySQL, Redis and Kafka...")

		cmd := exec.Command("docker-compose", "up", "-d", "mysql", "kafka", "redis")
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			fmt.Printf("❌ Failed to start services: %v\n", err)
			return
		}
		fmt.Println("✅ Services started successfully!")
	}

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	store, err := storage.NewMySQLStore(cfg.Database, log)
	if err != nil {
		fmt.Printf("❌ MySQL not reachable: %v\n", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	house := &models.House{
		ID:               *houseID,
		Title:            "Demo house",
		TotalTickets:     *tickets,
		TicketPrice:      5,
		MaxParticipants:  0,
		Status:           models.HouseStatusActive,
		LotteryStartDate: now,
		LotteryEndDate:   now.Add(30 * 24 * time.Hour),
		CreatedAt:        now,
	}
	if err := store.SaveHouse(ctx, house); err != nil {
		fmt.Printf("❌ Failed to create demo house: %v\n", err)
		return
	}
	fmt.Printf("🏠 House %s ready with %d tickets\n", house.ID, house.TotalTickets)

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer client.Close()
	r := rediswrap.NewRedis(client, log, 2*time.Second)
	for i := 1; i <= *users; i++ {
		userID := fmt.Sprintf("demo-user-%d", i)
		if err := r.SetVerified(ctx, userID, true); err != nil {
			fmt.Printf("❌ Failed to verify %s: %v\n", userID, err)
			return
		}
	}
	fmt.Printf("👤 %d verified demo users created\n", *users)
	fmt.Println("🎯 Run: go run . and call the API with X-User-ID: demo-user-1")
}

func checkDocker() error {
	cmd := exec.Command("docker", "info")
	return cmd.Run()
}
