package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lottery-reservation/internal/config"
	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/middleware"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

func NewRouter(cfg config.ServerConfig, log *logger.Logger, reservations *ReservationHandler, inventory *InventoryHandler, checks map[string]HealthCheck) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.EnhancedLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders(log))
	router.Use(middleware.RateLimit(log, cfg.RateLimitRPS, cfg.RateLimitBurst))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				deps[name] = err.Error()
				continue
			}
			deps[name] = "ok"
		}
		state := "healthy"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":       state,
			"dependencies": deps,
			"timestamp":    time.Now().UTC(),
			"service":      "lottery-reservation",
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.UserIdentity(log))
	{
		houses := v1.Group("/houses/:id")
		{
			houses.GET("/inventory", inventory.GetHouseStatus)
			houses.GET("/participants", inventory.GetParticipantStats)
			houses.GET("/validate-purchase", inventory.ValidatePurchase)
			houses.POST("/reservations", reservations.CreateReservation)
			houses.POST("/purchase", reservations.QuickPurchase)
		}

		res := v1.Group("/reservations")
		{
			res.GET("", reservations.ListReservations)
			res.GET("/:id", reservations.GetReservation)
			res.DELETE("/:id", reservations.CancelReservation)
		}
	}

	log.LogProcess("ROUTER", "All routes registered successfully")
	return router
}
