package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Delivery channels. ChannelLive is the in-app websocket channel.
const (
	ChannelLive  = "live"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Notification types.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
)

// Notification priorities, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification categories.
const (
	CategoryMarketplace = "marketplace"
	CategoryHarvest     = "harvest"
	CategoryFinancial   = "financial"
	CategorySystem      = "system"
	CategoryWeather     = "weather"
	CategoryOrder       = "order"
	CategoryPayment     = "payment"
	CategoryShipment    = "shipment"
)

// ValidCategory reports whether the supplied category is known.
func ValidCategory(category string) bool {
	switch category {
	case CategoryMarketplace, CategoryHarvest, CategoryFinancial, CategorySystem,
		CategoryWeather, CategoryOrder, CategoryPayment, CategoryShipment:
		return true
	}
	return false
}

// ValidPriority reports whether the supplied priority is known.
func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PriorityRank orders priorities for threshold comparisons. Unknown values
// rank as normal.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// ChannelStatus records the outcome of one channel attempt. The channel set
// is fixed at creation time; only Sent, SentAt, and Error change afterwards.
type ChannelStatus struct {
	Type   string     `json:"type"`
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// DeliveryLog is one immutable snapshot in the append-only delivery audit
// trail.
type DeliveryLog struct {
	At      time.Time       `json:"at"`
	Status  map[string]bool `json:"status"`
	Methods []string        `json:"methods"`
	Error   string          `json:"error,omitempty"`
}

// Notification represents a user-facing notification and its delivery state.
type Notification struct {
	BaseModel

	UserID   string `gorm:"type:uuid;index" json:"user_id"`
	Title    string `gorm:"type:varchar(255);not null" json:"title"`
	Message  string `gorm:"type:text" json:"message"`
	Type     string `gorm:"type:varchar(32);default:'info'" json:"type"`
	Category string `gorm:"type:varchar(64);index" json:"category"`
	Priority string `gorm:"type:varchar(32);default:'normal'" json:"priority"`

	Channels     datatypes.JSON `json:"channels"`
	DeliveryLogs datatypes.JSON `json:"delivery_logs"`

	Read   bool       `gorm:"default:false;index" json:"read"`
	ReadAt *time.Time `json:"read_at"`

	ActionURL string         `gorm:"type:text" json:"action_url"`
	Data      datatypes.JSON `json:"data"`

	ScheduledFor *time.Time `json:"scheduled_for"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// ChannelStatuses decodes the per-channel delivery entries.
func (n *Notification) ChannelStatuses() []ChannelStatus {
	if len(n.Channels) == 0 {
		return nil
	}
	var statuses []ChannelStatus
	if err := json.Unmarshal(n.Channels, &statuses); err != nil {
		return nil
	}
	return statuses
}

// SetChannelStatuses encodes the per-channel delivery entries.
func (n *Notification) SetChannelStatuses(statuses []ChannelStatus) {
	if data, err := json.Marshal(statuses); err == nil {
		n.Channels = datatypes.JSON(data)
	}
}

// Logs decodes the delivery audit trail.
func (n *Notification) Logs() []DeliveryLog {
	if len(n.DeliveryLogs) == 0 {
		return nil
	}
	var logs []DeliveryLog
	if err := json.Unmarshal(n.DeliveryLogs, &logs); err != nil {
		return nil
	}
	return logs
}

// AppendDeliveryLog appends one snapshot to the audit trail. Existing
// entries are never rewritten.
func (n *Notification) AppendDeliveryLog(entry DeliveryLog) {
	logs := append(n.Logs(), entry)
	if data, err := json.Marshal(logs); err == nil {
		n.DeliveryLogs = datatypes.JSON(data)
	}
}
