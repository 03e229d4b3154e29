package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lottery-reservation/internal/logger"
	"lottery-reservation/internal/middleware"
	"lottery-reservation/internal/services"
	"lottery-reservation/internal/utils"
)

type InventoryHandler struct {
	inventory *services.InventoryService
	tickets   *services.TicketService
	log       *logger.Logger
}

func NewInventoryHandler(inventory *services.InventoryService, tickets *services.TicketService, log *logger.Logger) *InventoryHandler {
	return &InventoryHandler{inventory: inventory, tickets: tickets, log: log}
}

func (h *InventoryHandler) GetHouseStatus(c *gin.Context) {
	status, err := h.inventory.GetHouseStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "Failed to retrieve inventory", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Inventory retrieved", status))
}

func (h *InventoryHandler) GetParticipantStats(c *gin.Context) {
	stats, err := h.inventory.GetParticipantStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "Failed to retrieve participants", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Participants retrieved", stats))
}

// ValidatePurchase answers whether the caller could buy quantity tickets now.
func (h *InventoryHandler) ValidatePurchase(c *gin.Context) {
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.CodedErrorResponse("Invalid quantity", string(services.KindValidation), err.Error()))
		return
	}

	result, err := h.tickets.ValidatePurchase(c.Request.Context(), c.Param("id"), middleware.UserID(c), quantity)
	if err != nil {
		respondError(c, h.log, "Failed to validate purchase", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Purchase validated", result))
}
