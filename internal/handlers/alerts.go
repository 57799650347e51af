package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/adamstosho/grochain/internal/alerts"
	"github.com/adamstosho/grochain/internal/middleware"
	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/pkg/errors"
	"github.com/adamstosho/grochain/pkg/response"
)

// AlertHandler exposes HTTP endpoints for price alerts.
type AlertHandler struct {
	service   *alerts.Service
	evaluator *alerts.Evaluator
}

// NewAlertHandler constructs an alert handler. The evaluator is optional;
// without it the on-demand check endpoint responds 404.
func NewAlertHandler(service *alerts.Service, evaluator *alerts.Evaluator) (*AlertHandler, error) {
	if service == nil {
		return nil, errors.New("VALIDATION_ERROR", "alert service is required", http.StatusInternalServerError)
	}
	return &AlertHandler{service: service, evaluator: evaluator}, nil
}

type alertChannelPayload struct {
	Channel string `json:"channel" validate:"required"`
	Enabled bool   `json:"enabled"`
}

// Create registers a new price alert for the current user.
func (h *AlertHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		ListingID   string                `json:"listing_id" validate:"required,uuid4"`
		TargetPrice decimal.Decimal       `json:"target_price" validate:"required"`
		AlertType   string                `json:"alert_type" validate:"required"`
		Channels    []alertChannelPayload `json:"channels"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	alert, err := h.service.Create(c.Request.Context(), alerts.CreateAlertInput{
		UserID:      userID,
		ListingID:   payload.ListingID,
		TargetPrice: payload.TargetPrice,
		AlertType:   payload.AlertType,
		Channels:    toAlertChannels(payload.Channels),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, alert)
}

// List returns the current user's alerts.
func (h *AlertHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// Get returns a single alert owned by the current user.
func (h *AlertHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	alert, err := h.service.Get(c.Request.Context(), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// Update applies a partial edit to an alert. Changing the target price or
// passing reset=true re-arms a triggered alert.
func (h *AlertHandler) Update(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		TargetPrice *decimal.Decimal      `json:"target_price"`
		AlertType   *string               `json:"alert_type"`
		IsActive    *bool                 `json:"is_active"`
		Channels    []alertChannelPayload `json:"channels"`
		Reset       bool                  `json:"reset"`
	}

	if !bindAndValidate(c, &payload) {
		return
	}

	alert, err := h.service.Update(c.Request.Context(), userID, strings.TrimSpace(c.Param("id")), alerts.UpdateAlertInput{
		TargetPrice: payload.TargetPrice,
		AlertType:   payload.AlertType,
		IsActive:    payload.IsActive,
		Channels:    toAlertChannels(payload.Channels),
		Reset:       payload.Reset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// Delete removes an alert owned by the current user.
func (h *AlertHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, strings.TrimSpace(c.Param("id"))); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Stats returns aggregate alert counters for the current user.
func (h *AlertHandler) Stats(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	stats, err := h.service.StatsForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// Check runs an evaluation tick immediately instead of waiting for the
// scheduler. Admin only; a tick already in flight yields 409.
func (h *AlertHandler) Check(c *gin.Context) {
	if h.evaluator == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	summary, err := h.evaluator.RunTick(c.Request.Context())
	if err != nil {
		if err == alerts.ErrTickInProgress {
			response.Error(c, errors.NewConflict("an evaluation tick is already running"))
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

func toAlertChannels(payload []alertChannelPayload) []models.AlertChannel {
	if len(payload) == 0 {
		return nil
	}
	channels := make([]models.AlertChannel, 0, len(payload))
	for _, entry := range payload {
		channels = append(channels, models.AlertChannel{Channel: entry.Channel, Enabled: entry.Enabled})
	}
	return channels
}
