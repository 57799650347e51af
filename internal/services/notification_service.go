package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/channels"
	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/internal/realtime"
	apperrors "github.com/adamstosho/grochain/pkg/errors"
	"github.com/adamstosho/grochain/pkg/logger"
	"github.com/adamstosho/grochain/pkg/metrics"
)

// NotificationDraft carries the attributes of a notification before routing
// decides its channels.
type NotificationDraft struct {
	Title        string
	Message      string
	Type         string
	Category     string
	Priority     string
	ActionURL    string
	Data         map[string]any
	ScheduledFor *time.Time
	ExpiresAt    *time.Time
}

// NotificationEvent is the live-channel projection of a notification.
type NotificationEvent struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Priority  string         `json:"priority"`
	ActionURL string         `json:"action_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationService is the delivery router: it resolves channels for a
// draft, attempts each, and durably records the outcome. It also owns the
// read-state CRUD consumed by the HTTP surface.
type NotificationService struct {
	db       *gorm.DB
	registry *realtime.Registry
	senders  channels.Senders
	log      *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, registry *realtime.Registry, senders channels.Senders) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{
		db:       db,
		registry: registry,
		senders:  senders,
		log:      logger.WithModule("notifications"),
	}, nil
}

// Deliver routes one notification to its user. The channel set is fixed
// here, before any attempt; afterwards only the sent/error fields of the
// existing entries change. Channel attempts are independent: one failure
// neither blocks siblings nor surfaces as an error to the caller. The
// router does not deduplicate calls; at-most-once semantics are the
// caller's responsibility.
func (s *NotificationService) Deliver(ctx context.Context, user models.User, draft NotificationDraft, overrides []models.AlertChannel) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(user.ID) == "" {
		return nil, errors.New("notification service: user id is required")
	}

	prefs := NormalisePreferences(user.Preferences)
	attrs := NotificationAttrs{
		Type:     defaultIfEmpty(draft.Type, models.TypeInfo),
		Category: draft.Category,
		Priority: defaultIfEmpty(draft.Priority, models.PriorityNormal),
	}
	resolved := ResolveChannels(prefs, attrs, overrides)

	notification := models.Notification{
		UserID:       user.ID,
		Title:        strings.TrimSpace(draft.Title),
		Message:      strings.TrimSpace(draft.Message),
		Type:         attrs.Type,
		Category:     attrs.Category,
		Priority:     attrs.Priority,
		ActionURL:    strings.TrimSpace(draft.ActionURL),
		ScheduledFor: draft.ScheduledFor,
		ExpiresAt:    draft.ExpiresAt,
	}
	if draft.Data != nil {
		if data, err := json.Marshal(draft.Data); err == nil {
			notification.Data = datatypes.JSON(data)
		} else {
			return nil, fmt.Errorf("notification service: marshal data: %w", err)
		}
	}

	statuses := make([]models.ChannelStatus, 0, len(resolved))
	for _, channel := range orderedChannels(resolved) {
		statuses = append(statuses, models.ChannelStatus{Type: channel})
	}
	notification.SetChannelStatuses(statuses)

	// Persist before delivery so the live projection carries a stable id.
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	statuses = s.attemptAll(ctx, user, &notification, statuses, draft.Data)
	notification.SetChannelStatuses(statuses)
	notification.AppendDeliveryLog(buildDeliveryLog(statuses))

	if err := s.db.WithContext(ctx).Model(&notification).
		Updates(map[string]any{
			"channels":      notification.Channels,
			"delivery_logs": notification.DeliveryLogs,
		}).Error; err != nil {
		return nil, fmt.Errorf("notification service: record delivery: %w", err)
	}

	return &notification, nil
}

func (s *NotificationService) attemptAll(ctx context.Context, user models.User, notification *models.Notification, statuses []models.ChannelStatus, data map[string]any) []models.ChannelStatus {
	payload := channels.Payload{
		Title:   notification.Title,
		Message: notification.Message,
		Data:    data,
	}

	for i := range statuses {
		now := time.Now().UTC()
		switch statuses[i].Type {
		case models.ChannelLive:
			delivered := false
			if s.registry != nil {
				delivered = s.registry.SendToUser(user.ID, realtime.EventNotification, NotificationEvent{
					ID:        notification.ID,
					Title:     notification.Title,
					Message:   notification.Message,
					Type:      notification.Type,
					Category:  notification.Category,
					Priority:  notification.Priority,
					ActionURL: notification.ActionURL,
					Data:      data,
				})
			}
			statuses[i].Sent = delivered
			if delivered {
				statuses[i].SentAt = &now
			} else {
				statuses[i].Error = "no live connection"
			}
			recordDelivery(models.ChannelLive, delivered)

		default:
			sender := s.senders[statuses[i].Type]
			if sender == nil {
				statuses[i].Error = "channel not configured"
				recordDelivery(statuses[i].Type, false)
				continue
			}
			if err := sender.Send(ctx, user, payload); err != nil {
				statuses[i].Error = err.Error()
				recordDelivery(statuses[i].Type, false)
				s.log.Warn("channel delivery failed",
					zap.String("notification_id", notification.ID),
					zap.String("channel", statuses[i].Type),
					zap.Error(err),
				)
				continue
			}
			statuses[i].Sent = true
			statuses[i].SentAt = &now
			recordDelivery(statuses[i].Type, true)
		}
	}

	return statuses
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]models.Notification, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(maxInt(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}
	return rows, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: unread count: %w", err)
	}
	return count, nil
}

// MarkRead sets the notification read flag for a user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	return s.setReadState(ctx, userID, notificationID, true)
}

// MarkUnread unsets the notification read flag.
func (s *NotificationService) MarkUnread(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	return s.setReadState(ctx, userID, notificationID, false)
}

func (s *NotificationService) setReadState(ctx context.Context, userID, notificationID string, read bool) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	updates := map[string]any{"read": read, "read_at": nil}
	notification.Read = read
	notification.ReadAt = nil
	if read {
		now := time.Now().UTC()
		updates["read_at"] = now
		notification.ReadAt = &now
	}

	if err := s.db.WithContext(ctx).Model(&notification).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("notification service: update read state: %w", err)
	}
	return &notification, nil
}

// MarkAllRead marks all notifications for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{"read": true, "read_at": now}).Error; err != nil {
		return fmt.Errorf("notification service: mark all read: %w", err)
	}
	return nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func buildDeliveryLog(statuses []models.ChannelStatus) models.DeliveryLog {
	status := make(map[string]bool, len(statuses))
	methods := make([]string, 0, len(statuses))
	firstError := ""
	for _, entry := range statuses {
		status[entry.Type] = entry.Sent
		methods = append(methods, entry.Type)
		if firstError == "" && entry.Error != "" {
			firstError = entry.Error
		}
	}
	return models.DeliveryLog{
		At:      time.Now().UTC(),
		Status:  status,
		Methods: methods,
		Error:   firstError,
	}
}

// orderedChannels returns the resolved set in a stable order so persisted
// channel entries are deterministic.
func orderedChannels(resolved map[string]struct{}) []string {
	ordered := make([]string, 0, len(resolved))
	for _, channel := range []string{models.ChannelLive, models.ChannelEmail, models.ChannelSMS, models.ChannelPush} {
		if _, ok := resolved[channel]; ok {
			ordered = append(ordered, channel)
		}
	}
	return ordered
}

func recordDelivery(channel string, sent bool) {
	result := "failed"
	if sent {
		result = "sent"
	}
	metrics.Deliveries.WithLabelValues(channel, result).Inc()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
