package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/pkg/logger"
)

const (
	defaultStaleAlertDays        = 30
	defaultNotificationRetention = 90
	defaultAlertSpec             = "@daily"
	defaultNotificationSpec      = "@daily"
)

// Sweeper coordinates background maintenance: archiving alerts that have
// been triggered and deactivated for a long time, and purging expired or
// stale notifications. The core engine never deletes user data on its own;
// only these scheduled sweeps do.
type Sweeper struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	staleAlertDays        int
	notificationRetention int
	alertSchedule         string
	notificationSchedule  string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleAlertDays adjusts how long a deactivated, triggered alert is
// retained before the sweep removes it.
func WithStaleAlertDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.staleAlertDays = days
		}
	}
}

// WithNotificationRetentionDays adjusts how long read notifications are retained.
func WithNotificationRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.notificationRetention = days
		}
	}
}

// WithAlertSchedule overrides the cron specification for the alert sweep.
func WithAlertSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.alertSchedule = spec
		}
	}
}

// WithNotificationSchedule overrides the cron specification for the notification sweep.
func WithNotificationSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.notificationSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:                    db,
		now:                   time.Now,
		log:                   logger.WithModule("maintenance"),
		staleAlertDays:        defaultStaleAlertDays,
		notificationRetention: defaultNotificationRetention,
		alertSchedule:         defaultAlertSpec,
		notificationSchedule:  defaultNotificationSpec,
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the sweep jobs and launches the scheduler.
func (s *Sweeper) Start() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.alertSchedule, func() {
		if _, err := s.SweepStaleAlerts(context.Background()); err != nil {
			s.log.Warn("alert sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.notificationSchedule, func() {
		if _, err := s.SweepNotifications(context.Background()); err != nil {
			s.log.Warn("notification sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all sweeps sequentially. Primarily used in tests and
// during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := s.SweepStaleAlerts(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.SweepNotifications(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SweepStaleAlerts removes alerts that are deactivated, triggered, and
// untouched for longer than the retention window.
func (s *Sweeper) SweepStaleAlerts(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New("sweep alerts: db is required")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.staleAlertDays)
	result := s.db.WithContext(ctx).
		Where("is_active = ? AND triggered_at IS NOT NULL AND triggered_at < ?", false, cutoff).
		Delete(&models.PriceAlert{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep alerts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SweepNotifications purges notifications past their expiry as well as read
// notifications older than the retention window.
func (s *Sweeper) SweepNotifications(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New("sweep notifications: db is required")
	}

	now := s.now().UTC()
	var removed int64

	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&models.Notification{})
	if result.Error != nil {
		return removed, fmt.Errorf("sweep notifications: expired: %w", result.Error)
	}
	removed += result.RowsAffected

	cutoff := now.AddDate(0, 0, -s.notificationRetention)
	result = s.db.WithContext(ctx).
		Where("read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return removed, fmt.Errorf("sweep notifications: stale: %w", result.Error)
	}
	removed += result.RowsAffected

	return removed, nil
}
