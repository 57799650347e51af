package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/internal/realtime"
	"github.com/adamstosho/grochain/pkg/errors"
	"github.com/adamstosho/grochain/pkg/response"
)

// BroadcastHandler lets administrators push live events to every connected
// user of a role, for example harvest status updates to all farmers.
type BroadcastHandler struct {
	registry *realtime.Registry
}

// NewBroadcastHandler constructs a broadcast handler.
func NewBroadcastHandler(registry *realtime.Registry) (*BroadcastHandler, error) {
	if registry == nil {
		return nil, errors.New("VALIDATION_ERROR", "registry is required", http.StatusInternalServerError)
	}
	return &BroadcastHandler{registry: registry}, nil
}

// Broadcast fans an event out to every online user holding the target role.
// Delivery is best effort; offline users are not queued.
func (h *BroadcastHandler) Broadcast(c *gin.Context) {
	role := strings.TrimSpace(c.Param("role"))
	if !models.ValidRole(role) {
		response.Error(c, errors.NewBadRequest("unknown role"))
		return
	}

	var payload struct {
		Event   string         `json:"event"`
		Title   string         `json:"title" validate:"required"`
		Message string         `json:"message" validate:"required"`
		Data    map[string]any `json:"data"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	event := strings.TrimSpace(payload.Event)
	if event == "" {
		event = realtime.EventNotification
	}

	h.registry.SendToRole(role, event, gin.H{
		"title":   payload.Title,
		"message": payload.Message,
		"data":    payload.Data,
	})

	response.Success(c, http.StatusOK, gin.H{
		"role":       role,
		"recipients": h.registry.CountOnlineByRole(role),
	})
}
