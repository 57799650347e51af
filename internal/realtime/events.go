package realtime

import "time"

// Named events pushed to live connections.
const (
	EventNotification      = "notification"
	EventHarvestStatus     = "harvest-status-update"
	EventMarketplaceUpdate = "marketplace-update"
	EventShipmentUpdate    = "shipment-update"
	EventPong              = "pong"
)

// Event is a JSON payload delivered to a live connection.
type Event struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds a timestamped event.
func NewEvent(name string, data any) Event {
	return Event{
		Event:     name,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
