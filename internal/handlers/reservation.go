package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/middleware"
	"lottery-reservation/internal/models"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/utils"
)

type ReservationHandler struct {
	reservations *services.ReservationService
	payments     *services.PaymentService
	log          *logger.Logger
}

func NewReservationHandler(reservations *services.ReservationService, payments *services.PaymentService, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		payments:     payments,
		log:          log,
	}
}

// CreateReservation holds tickets on a house for the calling user.
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var req models.ReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CodedErrorResponse("Invalid request payload", string(services.KindValidation), err.Error()))
		return
	}

	reservation, err := h.reservations.CreateReservation(c.Request.Context(), &req, c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, "Reservation rejected", err)
		return
	}

	c.JSON(http.StatusCreated, utils.SuccessResponse("Reservation created", reservation))
}

// QuickPurchase reserves and pays in a single request.
func (h *ReservationHandler) QuickPurchase(c *gin.Context) {
	var req models.ReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.CodedErrorResponse("Invalid request payload", string(services.KindValidation), err.Error()))
		return
	}

	reservation, tickets, err := h.payments.QuickPurchase(c.Request.Context(), &req, c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, "Purchase failed", err)
		return
	}

	c.JSON(http.StatusCreated, utils.SuccessResponse("Purchase completed", gin.H{
		"reservation": reservation,
		"tickets":     tickets,
	}))
}

func (h *ReservationHandler) GetReservation(c *gin.Context) {
	reservation, err := h.reservations.GetReservation(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, "Failed to retrieve reservation", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Reservation retrieved", reservation))
}

func (h *ReservationHandler) ListReservations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.reservations.GetUserReservations(c.Request.Context(), middleware.UserID(c), page, limit)
	if err != nil {
		respondError(c, h.log, "Failed to list reservations", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Reservations retrieved", result))
}

func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	id := c.Param("id")
	cancelled, err := h.reservations.CancelReservation(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, "Failed to cancel reservation", err)
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, utils.CodedErrorResponse("Reservation already processed", string(services.KindCapacity), ""))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Reservation cancelled", gin.H{"id": id}))
}
