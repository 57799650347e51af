package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamstosho/grochain/internal/middleware"
	"github.com/adamstosho/grochain/internal/services"
	"github.com/adamstosho/grochain/pkg/errors"
	"github.com/adamstosho/grochain/pkg/response"
)

// PreferenceHandler exposes the current user's notification preferences.
type PreferenceHandler struct {
	service *services.PreferenceService
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(service *services.PreferenceService) (*PreferenceHandler, error) {
	if service == nil {
		return nil, errors.New("VALIDATION_ERROR", "preference service is required", http.StatusInternalServerError)
	}
	return &PreferenceHandler{service: service}, nil
}

// Get returns the resolved preferences for the current user, with defaults
// filled in for anything the user never set.
func (h *PreferenceHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	prefs, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, prefs)
}

// Update replaces the current user's notification preferences.
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload services.NotificationPreferences
	if !bindAndValidate(c, &payload) {
		return
	}

	prefs, err := h.service.Update(c.Request.Context(), userID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, prefs)
}
