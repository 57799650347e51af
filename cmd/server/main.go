package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adamstosho/grochain/internal/alerts"
	"github.com/adamstosho/grochain/internal/api"
	"github.com/adamstosho/grochain/internal/app"
	"github.com/adamstosho/grochain/internal/app/maintenance"
	iauth "github.com/adamstosho/grochain/internal/auth"
	"github.com/adamstosho/grochain/internal/channels"
	"github.com/adamstosho/grochain/internal/database"
	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/internal/realtime"
	"github.com/adamstosho/grochain/internal/services"
	"github.com/adamstosho/grochain/pkg/logger"
	"github.com/adamstosho/grochain/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grochain-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	registry := realtime.NewRegistry()
	defer registry.Close()

	handshaker, err := realtime.NewHandshaker(registry, jwtService, db)
	if err != nil {
		return fmt.Errorf("initialise stream handshaker: %w", err)
	}

	senders, err := buildSenders(cfg)
	if err != nil {
		return err
	}

	notificationSvc, err := services.NewNotificationService(db, registry, senders)
	if err != nil {
		return fmt.Errorf("initialise notification service: %w", err)
	}

	preferenceSvc, err := services.NewPreferenceService(db)
	if err != nil {
		return fmt.Errorf("initialise preference service: %w", err)
	}

	alertSvc, err := alerts.NewService(db)
	if err != nil {
		return fmt.Errorf("initialise alert service: %w", err)
	}

	var evaluator *alerts.Evaluator
	if cfg.Alerts.Enabled {
		evaluator, err = alerts.NewEvaluator(db, notificationSvc, alerts.EvaluatorConfig{
			Interval:    cfg.Alerts.Interval,
			PageSize:    cfg.Alerts.PageSize,
			FanOut:      cfg.Alerts.FanOut,
			TickTimeout: cfg.Alerts.TickTimeout,
		})
		if err != nil {
			return fmt.Errorf("initialise alert evaluator: %w", err)
		}
		if err := evaluator.Start(); err != nil {
			return fmt.Errorf("start alert evaluator: %w", err)
		}
		defer evaluator.Stop()
	}

	if cfg.Maintenance.Enabled {
		sweeper := maintenance.NewSweeper(db,
			maintenance.WithAlertSchedule(cfg.Maintenance.AlertSchedule),
			maintenance.WithNotificationSchedule(cfg.Maintenance.NotificationSchedule),
			maintenance.WithStaleAlertDays(cfg.Maintenance.StaleAlertDays),
			maintenance.WithNotificationRetentionDays(cfg.Maintenance.NotificationRetention),
		)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := sweeper.Stop()
			if err := sweeper.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown sweep failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(cfg, api.Deps{
		DB:            db,
		JWT:           jwtService,
		Registry:      registry,
		Handshaker:    handshaker,
		Notifications: notificationSvc,
		Preferences:   preferenceSvc,
		Alerts:        alertSvc,
		Evaluator:     evaluator,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func buildSenders(cfg *app.Config) (channels.Senders, error) {
	senders := channels.Senders{}

	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(mail.Settings{
			Enabled:  true,
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			From:     cfg.Email.SMTP.From,
			UseTLS:   cfg.Email.SMTP.UseTLS,
			Timeout:  cfg.Email.SMTP.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		emailSender, err := channels.NewEmailSender(mailer)
		if err != nil {
			return nil, fmt.Errorf("initialise email sender: %w", err)
		}
		senders[models.ChannelEmail] = emailSender
	}

	if cfg.Gateways.SMS.Enabled {
		smsSender, err := channels.NewWebhookSender(channels.WebhookConfig{
			Channel: models.ChannelSMS,
			URL:     cfg.Gateways.SMS.URL,
			Token:   cfg.Gateways.SMS.Token,
			Timeout: cfg.Gateways.SMS.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise sms gateway: %w", err)
		}
		senders[models.ChannelSMS] = smsSender
	}

	if cfg.Gateways.Push.Enabled {
		pushSender, err := channels.NewWebhookSender(channels.WebhookConfig{
			Channel: models.ChannelPush,
			URL:     cfg.Gateways.Push.URL,
			Token:   cfg.Gateways.Push.Token,
			Timeout: cfg.Gateways.Push.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise push gateway: %w", err)
		}
		senders[models.ChannelPush] = pushSender
	}

	return senders, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("obtain database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
