package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/internal/services"
	"github.com/adamstosho/grochain/pkg/logger"
	"github.com/adamstosho/grochain/pkg/metrics"
)

const (
	defaultInterval = 30 * time.Minute
	defaultPageSize = 200
	defaultFanOut   = 8
)

// ErrTickInProgress is returned when a tick is requested while one is
// already running.
var ErrTickInProgress = errors.New("alerts: evaluation tick already in progress")

// EvaluatorConfig tunes the recurring evaluation task.
type EvaluatorConfig struct {
	Interval    time.Duration
	PageSize    int
	FanOut      int
	TickTimeout time.Duration
}

// TickSummary reports the outcome of one evaluation tick.
type TickSummary struct {
	Evaluated int `json:"evaluated"`
	Triggered int `json:"triggered"`
	Errors    int `json:"errors"`
}

// Evaluator runs the recurring price alert evaluation. Each tick pages
// through every active alert, updates its observed price and history,
// applies the trigger state machine, and hands triggered alerts to the
// delivery router. Alerts are independent units of work evaluated with a
// bounded fan-out; one alert's failure never aborts the tick.
type Evaluator struct {
	db       *gorm.DB
	notifier *services.NotificationService
	cron     *cron.Cron
	cfg      EvaluatorConfig
	now      func() time.Time
	log      *zap.Logger
	running  atomic.Bool
}

// Option customises the Evaluator.
type Option func(*Evaluator)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.cron = c
		}
	}
}

// WithNow overrides the clock used for trigger timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator constructs an Evaluator with defaults applied.
func NewEvaluator(db *gorm.DB, notifier *services.NotificationService, cfg EvaluatorConfig, opts ...Option) (*Evaluator, error) {
	if db == nil {
		return nil, errors.New("alerts: db is required")
	}
	if notifier == nil {
		return nil, errors.New("alerts: notification service is required")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = defaultFanOut
	}
	if cfg.TickTimeout <= 0 || cfg.TickTimeout > cfg.Interval {
		// A tick must never run past the next scheduled tick.
		cfg.TickTimeout = cfg.Interval
	}

	evaluator := &Evaluator{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.WithModule("alerts"),
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	if evaluator.cron == nil {
		evaluator.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return evaluator, nil
}

// Start registers the recurring tick and launches the scheduler.
func (e *Evaluator) Start() error {
	spec := fmt.Sprintf("@every %s", e.cfg.Interval)
	if _, err := e.cron.AddFunc(spec, func() {
		summary, err := e.RunTick(context.Background())
		if err != nil && !errors.Is(err, ErrTickInProgress) {
			e.log.Warn("evaluation tick failed", zap.Error(err))
			return
		}
		e.log.Info("evaluation tick",
			zap.Int("evaluated", summary.Evaluated),
			zap.Int("triggered", summary.Triggered),
			zap.Int("errors", summary.Errors),
		)
	}); err != nil {
		return err
	}

	e.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running tick to complete.
func (e *Evaluator) Stop() context.Context {
	return e.cron.Stop()
}

// RunTick executes one evaluation pass over all active alerts. Alerts still
// in flight when the tick deadline expires are abandoned for this tick and
// picked up on the next one; their persisted state stays consistent because
// each alert is written in a single row update.
func (e *Evaluator) RunTick(ctx context.Context) (TickSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return TickSummary{}, ErrTickInProgress
	}
	defer e.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TickTimeout)
	defer cancel()

	var summary TickSummary
	lastID := ""

	for {
		var page []models.PriceAlert
		if err := e.db.WithContext(ctx).
			Where("is_active = ?", true).
			Where("id > ?", lastID).
			Order("id").
			Limit(e.cfg.PageSize).
			Find(&page).Error; err != nil {
			metrics.AlertTicks.WithLabelValues("error").Inc()
			return summary, fmt.Errorf("alerts: load active alerts: %w", err)
		}
		if len(page) == 0 {
			break
		}
		lastID = page[len(page)-1].ID

		e.processPage(ctx, page, &summary)

		if ctx.Err() != nil {
			metrics.AlertTicks.WithLabelValues("deadline").Inc()
			e.log.Warn("tick deadline reached, abandoning remaining alerts",
				zap.Int("evaluated", summary.Evaluated))
			return summary, nil
		}
		if len(page) < e.cfg.PageSize {
			break
		}
	}

	metrics.AlertTicks.WithLabelValues("completed").Inc()
	return summary, nil
}

func (e *Evaluator) processPage(ctx context.Context, page []models.PriceAlert, summary *TickSummary) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, e.cfg.FanOut)
	)

	for i := range page {
		if ctx.Err() != nil {
			break
		}

		alert := page[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			triggered, err := e.evaluateSafely(ctx, &alert)

			mu.Lock()
			defer mu.Unlock()
			summary.Evaluated++
			switch {
			case err != nil:
				summary.Errors++
				metrics.AlertsEvaluated.WithLabelValues("error").Inc()
				e.log.Warn("alert evaluation failed",
					zap.String("alert_id", alert.ID), zap.Error(err))
			case triggered:
				summary.Triggered++
				metrics.AlertsEvaluated.WithLabelValues("triggered").Inc()
			default:
				metrics.AlertsEvaluated.WithLabelValues("ok").Inc()
			}
		}()
	}

	wg.Wait()
}

// evaluateSafely isolates one alert: a panic inside evaluation is converted
// into a per-alert error and never escapes to abort the tick.
func (e *Evaluator) evaluateSafely(ctx context.Context, alert *models.PriceAlert) (triggered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			triggered = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.evaluate(ctx, alert)
}

// evaluate applies the per-alert sequence: read price, update observation
// state, apply the trigger predicate, persist, and hand off on trigger.
// The sequence is strictly ordered within one alert.
func (e *Evaluator) evaluate(ctx context.Context, alert *models.PriceAlert) (bool, error) {
	var listing models.Listing
	if err := e.db.WithContext(ctx).
		Select("id", "price", "product_name").
		Where("id = ?", alert.ListingID).
		First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A listing's temporary absence must not destroy the alert;
			// leave is_active untouched and retry next tick.
			return false, fmt.Errorf("listing %s not found", alert.ListingID)
		}
		return false, fmt.Errorf("load listing: %w", err)
	}

	now := e.now().UTC()
	previous := alert.CurrentPrice
	price := listing.Price

	alert.CurrentPrice = price
	alert.LastChecked = &now
	alert.AppendPrice(price, now)

	triggered := false
	if alert.Armed() && predicateHolds(alert.AlertType, price, alert.TargetPrice) {
		alert.TriggeredAt = &now
		alert.TriggerCount++
		alert.NotificationSent = false
		triggered = true
	}

	// One row write covers observation and trigger state together, so a
	// crash mid-tick cannot leave an alert half-updated.
	if err := e.db.WithContext(ctx).Save(alert).Error; err != nil {
		return false, fmt.Errorf("persist alert: %w", err)
	}

	if !triggered {
		return false, nil
	}

	if err := e.handoff(ctx, alert, previous, price); err != nil {
		// The alert stays triggered even when delivery failed; re-queuing
		// is not supported and the crossing must not re-fire.
		return true, fmt.Errorf("handoff: %w", err)
	}

	alert.NotificationSent = true
	if err := e.db.WithContext(ctx).Model(alert).
		Update("notification_sent", true).Error; err != nil {
		return true, fmt.Errorf("mark notified: %w", err)
	}
	return true, nil
}

func (e *Evaluator) handoff(ctx context.Context, alert *models.PriceAlert, previous, price decimal.Decimal) error {
	var user models.User
	if err := e.db.WithContext(ctx).Where("id = ?", alert.UserID).First(&user).Error; err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	title, message, notifType := describeTrigger(alert, previous, price)
	_, err := e.notifier.Deliver(ctx, user, services.NotificationDraft{
		Title:    title,
		Message:  message,
		Type:     notifType,
		Category: models.CategoryMarketplace,
		Priority: models.PriorityHigh,
		Data: map[string]any{
			"alert_id":      alert.ID,
			"listing_id":    alert.ListingID,
			"product_name":  alert.ProductName,
			"current_price": price.String(),
			"target_price":  alert.TargetPrice.String(),
		},
	}, alert.ChannelOverrides())
	return err
}

// predicateHolds applies the trigger condition for the alert type using the
// price representation directly; no rounding is introduced.
func predicateHolds(alertType string, price, target decimal.Decimal) bool {
	switch alertType {
	case models.AlertPriceDrop:
		return price.Cmp(target) <= 0
	case models.AlertPriceIncrease:
		return price.Cmp(target) >= 0
	case models.AlertBoth:
		return price.Cmp(target) <= 0 || price.Cmp(target) >= 0
	}
	return false
}

// percentChange computes (current - original) / original * 100. A zero
// original price reports a zero change rather than an error.
func percentChange(original, current decimal.Decimal) decimal.Decimal {
	if original.IsZero() {
		return decimal.Zero
	}
	return current.Sub(original).Div(original).Mul(decimal.NewFromInt(100))
}

func describeTrigger(alert *models.PriceAlert, previous, price decimal.Decimal) (title, message, notifType string) {
	change := percentChange(previous, price).Round(2)

	switch {
	case price.Cmp(alert.TargetPrice) <= 0:
		title = fmt.Sprintf("Price drop: %s", alert.ProductName)
		message = fmt.Sprintf("%s is now %s, at or below your target of %s (%s%% change)",
			alert.ProductName, price.String(), alert.TargetPrice.String(), change.String())
		notifType = models.TypeSuccess
	default:
		title = fmt.Sprintf("Price increase: %s", alert.ProductName)
		message = fmt.Sprintf("%s is now %s, at or above your target of %s (%s%% change)",
			alert.ProductName, price.String(), alert.TargetPrice.String(), change.String())
		notifType = models.TypeWarning
	}
	return title, message, notifType
}
