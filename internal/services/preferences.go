package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/models"
	apperrors "github.com/adamstosho/grochain/pkg/errors"
)

// NotificationPreferences is the per-user channel preference bag consumed by
// the resolver at routing time.
type NotificationPreferences struct {
	LiveEnabled       bool     `json:"live_enabled"`
	Email             bool     `json:"email"`
	SMS               bool     `json:"sms"`
	Push              bool     `json:"push"`
	Categories        []string `json:"categories"`
	PriorityThreshold string   `json:"priority_threshold"`
}

// DefaultNotificationPreferences returns the canonical defaults applied when
// no stored preference exists. The live channel defaults to enabled.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		LiveEnabled:       true,
		Email:             true,
		SMS:               false,
		Push:              true,
		PriorityThreshold: models.PriorityLow,
	}
}

// NotificationAttrs are the routing-relevant attributes of a notification.
type NotificationAttrs struct {
	Type     string
	Category string
	Priority string
}

// ResolveChannels decides which channels a notification should attempt for a
// user. It is a pure function of its inputs; the rule order is a first-class
// contract:
//
//  1. A priority below the user's threshold (urgent always passes) suppresses
//     the live and email channels, but never a per-alert override.
//  2. Live is included iff the live channel is enabled.
//  3. Email is included iff the email preference is set and the notification
//     is not low-signal (plain info).
//  4. SMS is reserved for high priority only.
//  5. A non-empty category set gates every channel except live.
//
// Per-alert overrides are applied last and win in both directions.
func ResolveChannels(prefs NotificationPreferences, attrs NotificationAttrs, overrides []models.AlertChannel) map[string]struct{} {
	priority := attrs.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	belowThreshold := models.PriorityRank(priority) < models.PriorityRank(prefs.PriorityThreshold) &&
		priority != models.PriorityUrgent

	include := map[string]bool{
		models.ChannelLive:  prefs.LiveEnabled,
		models.ChannelEmail: prefs.Email && attrs.Type != models.TypeInfo,
		models.ChannelSMS:   prefs.SMS && priority == models.PriorityHigh,
		models.ChannelPush:  prefs.Push,
	}

	if belowThreshold {
		include[models.ChannelLive] = false
		include[models.ChannelEmail] = false
	}

	// Category filtering never silences the live channel; in-app visibility
	// is guaranteed for eligible notifications.
	if len(prefs.Categories) > 0 && !containsString(prefs.Categories, attrs.Category) {
		include[models.ChannelEmail] = false
		include[models.ChannelSMS] = false
		include[models.ChannelPush] = false
	}

	for _, override := range overrides {
		include[override.Channel] = override.Enabled
	}

	resolved := make(map[string]struct{})
	for channel, ok := range include {
		if ok {
			resolved[channel] = struct{}{}
		}
	}
	return resolved
}

// PreferenceService persists the notification preference bag on the user row.
type PreferenceService struct {
	db *gorm.DB
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db}, nil
}

// Get returns the effective preferences for the specified user.
func (s *PreferenceService) Get(ctx context.Context, userID string) (NotificationPreferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultNotificationPreferences(), apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Select("id", "preferences").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultNotificationPreferences(), apperrors.ErrNotFound
		}
		return DefaultNotificationPreferences(), fmt.Errorf("preference service: load user: %w", err)
	}

	return NormalisePreferences(user.Preferences), nil
}

// Update validates and persists preference changes for the specified user.
// Unknown category and priority values are rejected.
func (s *PreferenceService) Update(ctx context.Context, userID string, prefs NotificationPreferences) (NotificationPreferences, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultNotificationPreferences(), apperrors.NewBadRequest("user id is required")
	}

	for _, category := range prefs.Categories {
		if !models.ValidCategory(category) {
			return DefaultNotificationPreferences(), apperrors.NewBadRequest(fmt.Sprintf("unknown category %q", category))
		}
	}
	if prefs.PriorityThreshold != "" && !models.ValidPriority(prefs.PriorityThreshold) {
		return DefaultNotificationPreferences(), apperrors.NewBadRequest(fmt.Sprintf("unknown priority %q", prefs.PriorityThreshold))
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Select("id").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultNotificationPreferences(), apperrors.ErrNotFound
		}
		return DefaultNotificationPreferences(), fmt.Errorf("preference service: load user: %w", err)
	}

	sanitised := sanitisePreferences(prefs)
	err = s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("preferences", MarshalPreferences(sanitised)).Error
	if err != nil {
		return DefaultNotificationPreferences(), fmt.Errorf("preference service: update preferences: %w", err)
	}

	return sanitised, nil
}

// NormalisePreferences coerces the raw JSON map (if any) into a strongly
// typed structure with defaults applied.
func NormalisePreferences(raw datatypes.JSONMap) NotificationPreferences {
	prefs := DefaultNotificationPreferences()
	if len(raw) == 0 {
		return prefs
	}

	if v, ok := asBool(raw["live_enabled"]); ok {
		prefs.LiveEnabled = v
	}
	if v, ok := asBool(raw["email"]); ok {
		prefs.Email = v
	}
	if v, ok := asBool(raw["sms"]); ok {
		prefs.SMS = v
	}
	if v, ok := asBool(raw["push"]); ok {
		prefs.Push = v
	}
	if v, ok := asStringSlice(raw["categories"]); ok {
		prefs.Categories = v
	}
	if v, ok := raw["priority_threshold"].(string); ok && models.ValidPriority(v) {
		prefs.PriorityThreshold = v
	}

	return prefs
}

// MarshalPreferences converts the structured preferences into the JSON map
// persisted on the user row.
func MarshalPreferences(prefs NotificationPreferences) datatypes.JSONMap {
	categories := make([]any, 0, len(prefs.Categories))
	for _, category := range prefs.Categories {
		categories = append(categories, category)
	}

	return datatypes.JSONMap{
		"live_enabled":       prefs.LiveEnabled,
		"email":              prefs.Email,
		"sms":                prefs.SMS,
		"push":               prefs.Push,
		"categories":         categories,
		"priority_threshold": prefs.PriorityThreshold,
	}
}

func sanitisePreferences(input NotificationPreferences) NotificationPreferences {
	out := input
	out.Categories = normaliseIDs(input.Categories)
	if out.PriorityThreshold == "" {
		out.PriorityThreshold = models.PriorityLow
	}
	return out
}
