package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/chatrelay/internal/domain"
	"github.com/driftlabs/chatrelay/internal/service"
)

// HTTPHandler serves the read-only REST surface.
type HTTPHandler struct {
	relayService service.RelayService
}

func NewHTTPHandler(relayService service.RelayService) *HTTPHandler {
	return &HTTPHandler{
		relayService: relayService,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/rooms/:room_id/messages", h.GetMessages)
	}

	r.GET("/health", h.HealthCheck)
}

// GetMessages returns the full ordered timeline of a room.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, domain.APIResponse{
			Success: false,
			Error:   "room_id is required",
		})
		return
	}

	messages, err := h.relayService.History(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.APIResponse{
			Success: false,
			Error:   "failed to get room history",
		})
		return
	}

	c.JSON(http.StatusOK, domain.APIResponse{
		Success: true,
		Data:    gin.H{"messages": messages},
	})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, domain.APIResponse{
		Success: true,
		Data:    gin.H{"status": "ok"},
	})
}
