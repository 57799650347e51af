package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Alert types supported by the evaluator.
const (
	AlertPriceDrop     = "price_drop"
	AlertPriceIncrease = "price_increase"
	AlertBoth          = "both"
)

// PriceHistoryCap bounds the per-alert price history ring.
const PriceHistoryCap = 10

// ValidAlertType reports whether the supplied alert type is known.
func ValidAlertType(alertType string) bool {
	switch alertType {
	case AlertPriceDrop, AlertPriceIncrease, AlertBoth:
		return true
	}
	return false
}

// PricePoint is a single observed price in an alert's history.
type PricePoint struct {
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// AlertChannel is a per-alert channel override entry.
type AlertChannel struct {
	Channel string `json:"channel"`
	Enabled bool   `json:"enabled"`
}

// PriceAlert is a user's standing request to be notified when a listing's
// price crosses a threshold. A triggered alert stays triggered until an
// explicit user edit re-arms it; the evaluator never clears TriggeredAt.
type PriceAlert struct {
	BaseModel

	UserID    string `gorm:"type:uuid;index:idx_alert_user_listing" json:"user_id"`
	ListingID string `gorm:"type:uuid;index:idx_alert_user_listing" json:"listing_id"`

	ProductName  string          `gorm:"type:varchar(255)" json:"product_name"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(20,8)" json:"current_price"`
	TargetPrice  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"target_price"`
	AlertType    string          `gorm:"type:varchar(32);default:'price_drop'" json:"alert_type"`

	IsActive    bool       `gorm:"default:true;index" json:"is_active"`
	LastChecked *time.Time `json:"last_checked"`

	TriggeredAt      *time.Time `json:"triggered_at"`
	TriggerCount     int        `gorm:"default:0" json:"trigger_count"`
	NotificationSent bool       `gorm:"default:false" json:"notification_sent"`

	NotificationChannels datatypes.JSON `json:"notification_channels"`
	PriceHistory         datatypes.JSON `json:"price_history"`
}

// Armed reports whether the alert is eligible for trigger evaluation.
func (a *PriceAlert) Armed() bool {
	return a.IsActive && a.TriggeredAt == nil
}

// History decodes the stored price history; an empty or malformed column
// yields nil.
func (a *PriceAlert) History() []PricePoint {
	if len(a.PriceHistory) == 0 {
		return nil
	}
	var points []PricePoint
	if err := json.Unmarshal(a.PriceHistory, &points); err != nil {
		return nil
	}
	return points
}

// AppendPrice records an observed price, evicting the oldest entry once the
// ring reaches capacity.
func (a *PriceAlert) AppendPrice(price decimal.Decimal, at time.Time) {
	points := append(a.History(), PricePoint{Price: price, RecordedAt: at})
	if len(points) > PriceHistoryCap {
		points = points[len(points)-PriceHistoryCap:]
	}
	if data, err := json.Marshal(points); err == nil {
		a.PriceHistory = datatypes.JSON(data)
	}
}

// ChannelOverrides decodes the per-alert channel override entries.
func (a *PriceAlert) ChannelOverrides() []AlertChannel {
	if len(a.NotificationChannels) == 0 {
		return nil
	}
	var overrides []AlertChannel
	if err := json.Unmarshal(a.NotificationChannels, &overrides); err != nil {
		return nil
	}
	return overrides
}

// SetChannelOverrides encodes the per-alert channel override entries.
func (a *PriceAlert) SetChannelOverrides(overrides []AlertChannel) {
	if len(overrides) == 0 {
		a.NotificationChannels = nil
		return
	}
	if data, err := json.Marshal(overrides); err == nil {
		a.NotificationChannels = datatypes.JSON(data)
	}
}
