package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamstosho/grochain/internal/realtime"
	"github.com/adamstosho/grochain/pkg/errors"
)

// StreamHandler upgrades authenticated requests to live notification streams.
type StreamHandler struct {
	handshaker *realtime.Handshaker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(handshaker *realtime.Handshaker) (*StreamHandler, error) {
	if handshaker == nil {
		return nil, errors.New("VALIDATION_ERROR", "handshaker is required", http.StatusInternalServerError)
	}
	return &StreamHandler{handshaker: handshaker}, nil
}

// Stream performs the WebSocket handshake. Credential verification happens
// before the upgrade so rejected clients receive a plain 401.
func (h *StreamHandler) Stream(c *gin.Context) {
	h.handshaker.Serve(c.Writer, c.Request)
}
