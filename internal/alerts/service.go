package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/models"
	apperrors "github.com/adamstosho/grochain/pkg/errors"
)

// CreateAlertInput defines the attributes required to register a price alert.
type CreateAlertInput struct {
	UserID      string
	ListingID   string
	TargetPrice decimal.Decimal
	AlertType   string
	Channels    []models.AlertChannel
}

// UpdateAlertInput carries a partial alert edit. Changing the target price
// or setting Reset re-arms a triggered alert.
type UpdateAlertInput struct {
	TargetPrice *decimal.Decimal
	AlertType   *string
	IsActive    *bool
	Channels    []models.AlertChannel
	Reset       bool
}

// Stats aggregates a user's alert counters.
type Stats struct {
	TotalAlerts     int64 `json:"total_alerts"`
	ActiveAlerts    int64 `json:"active_alerts"`
	TriggeredAlerts int64 `json:"triggered_alerts"`
	TotalTriggers   int64 `json:"total_triggers"`
}

// Service owns the price alert lifecycle: creation with duplicate
// rejection, owner-scoped reads and edits, explicit re-arming, and deletion.
type Service struct {
	db *gorm.DB
}

// NewService constructs an alert Service.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("alert service: db is required")
	}
	return &Service{db: db}, nil
}

// Create registers a new alert. A user may hold at most one active alert
// per listing; a duplicate is rejected with a conflict.
func (s *Service) Create(ctx context.Context, input CreateAlertInput) (*models.PriceAlert, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	listingID := strings.TrimSpace(input.ListingID)
	if userID == "" || listingID == "" {
		return nil, apperrors.NewBadRequest("user id and listing id are required")
	}

	alertType := input.AlertType
	if alertType == "" {
		alertType = models.AlertPriceDrop
	}
	if !models.ValidAlertType(alertType) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown alert type %q", input.AlertType))
	}
	if input.TargetPrice.Sign() <= 0 {
		return nil, apperrors.NewBadRequest("target price must be positive")
	}
	for _, override := range input.Channels {
		switch override.Channel {
		case models.ChannelLive, models.ChannelEmail, models.ChannelSMS, models.ChannelPush:
		default:
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown channel %q", override.Channel))
		}
	}

	var listing models.Listing
	if err := s.db.WithContext(ctx).Where("id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("listing not found")
		}
		return nil, fmt.Errorf("alert service: load listing: %w", err)
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&models.PriceAlert{}).
		Where("user_id = ? AND listing_id = ? AND is_active = ?", userID, listingID, true).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("alert service: check duplicate: %w", err)
	}
	if existing > 0 {
		return nil, apperrors.NewConflict("an active alert already exists for this listing")
	}

	now := time.Now().UTC()
	alert := models.PriceAlert{
		UserID:       userID,
		ListingID:    listingID,
		ProductName:  listing.ProductName,
		CurrentPrice: listing.Price,
		TargetPrice:  input.TargetPrice,
		AlertType:    alertType,
		IsActive:     true,
		LastChecked:  &now,
	}
	alert.SetChannelOverrides(input.Channels)
	alert.AppendPrice(listing.Price, now)

	if err := s.db.WithContext(ctx).Create(&alert).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("an active alert already exists for this listing")
		}
		return nil, fmt.Errorf("alert service: create alert: %w", err)
	}
	return &alert, nil
}

// List returns the user's alerts ordered by recency.
func (s *Service) List(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	ctx = ensureContext(ctx)
	var rows []models.PriceAlert
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("alert service: list alerts: %w", err)
	}
	return rows, nil
}

// Get returns one alert owned by the user.
func (s *Service) Get(ctx context.Context, userID, alertID string) (*models.PriceAlert, error) {
	ctx = ensureContext(ctx)
	var alert models.PriceAlert
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", alertID, userID).
		First(&alert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("alert service: load alert: %w", err)
	}
	return &alert, nil
}

// Update applies a partial edit. Editing the target price (or an explicit
// reset) clears the triggered state, re-arming the alert; this is the only
// path that ever clears TriggeredAt.
func (s *Service) Update(ctx context.Context, userID, alertID string, input UpdateAlertInput) (*models.PriceAlert, error) {
	ctx = ensureContext(ctx)
	alert, err := s.Get(ctx, userID, alertID)
	if err != nil {
		return nil, err
	}

	rearm := input.Reset

	if input.TargetPrice != nil {
		if input.TargetPrice.Sign() <= 0 {
			return nil, apperrors.NewBadRequest("target price must be positive")
		}
		if !input.TargetPrice.Equal(alert.TargetPrice) {
			rearm = true
		}
		alert.TargetPrice = *input.TargetPrice
	}
	if input.AlertType != nil {
		if !models.ValidAlertType(*input.AlertType) {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown alert type %q", *input.AlertType))
		}
		alert.AlertType = *input.AlertType
	}
	if input.IsActive != nil {
		alert.IsActive = *input.IsActive
	}
	if input.Channels != nil {
		for _, override := range input.Channels {
			switch override.Channel {
			case models.ChannelLive, models.ChannelEmail, models.ChannelSMS, models.ChannelPush:
			default:
				return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown channel %q", override.Channel))
			}
		}
		alert.SetChannelOverrides(input.Channels)
	}

	if rearm {
		alert.TriggeredAt = nil
		alert.NotificationSent = false
	}

	if err := s.db.WithContext(ctx).Save(alert).Error; err != nil {
		return nil, fmt.Errorf("alert service: update alert: %w", err)
	}
	return alert, nil
}

// Delete removes an alert owned by the user.
func (s *Service) Delete(ctx context.Context, userID, alertID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", alertID, userID).
		Delete(&models.PriceAlert{})
	if result.Error != nil {
		return fmt.Errorf("alert service: delete alert: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// StatsForUser aggregates the user's alert counters.
func (s *Service) StatsForUser(ctx context.Context, userID string) (Stats, error) {
	ctx = ensureContext(ctx)
	var stats Stats

	base := s.db.WithContext(ctx).Model(&models.PriceAlert{}).Where("user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalAlerts).Error; err != nil {
		return stats, fmt.Errorf("alert service: count alerts: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("is_active = ?", true).Count(&stats.ActiveAlerts).Error; err != nil {
		return stats, fmt.Errorf("alert service: count active: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("triggered_at IS NOT NULL").Count(&stats.TriggeredAlerts).Error; err != nil {
		return stats, fmt.Errorf("alert service: count triggered: %w", err)
	}

	var total struct{ Total int64 }
	if err := base.Session(&gorm.Session{}).
		Select("COALESCE(SUM(trigger_count), 0) AS total").
		Scan(&total).Error; err != nil {
		return stats, fmt.Errorf("alert service: sum triggers: %w", err)
	}
	stats.TotalTriggers = total.Total

	return stats, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
