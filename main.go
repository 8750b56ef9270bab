package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailhive/config"
	controller "mailhive/controllers"
	"mailhive/middleware"
	"mailhive/routes"
	"mailhive/storage"
	"mailhive/utils"
	"mailhive/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Wire the send engine
	store := storage.NewGormStore(config.DB)
	mailer := utils.NewSMTPMailer()
	health := worker.NewRecipientHealthTracker(store, config.AppConfig.BlacklistThreshold, logger)
	manager := worker.NewQueueManager(store, mailer, health, worker.ManagerConfig{
		TrackingBaseURL: config.AppConfig.TrackingBaseURL,
		TrackingSecret:  config.AppConfig.TrackingSecret,
	}, logger)

	recoveryCfg := worker.DefaultRecoveryConfig()
	recoveryCfg.Interval = time.Duration(config.AppConfig.RecoveryIntervalMin) * time.Minute
	recoveryCfg.StuckAfter = time.Duration(config.AppConfig.StuckAfterMin) * time.Minute
	recovery := worker.NewTaskRecoveryService(store, manager, recoveryCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recovery.Start(ctx)
	go manager.StartDailyReset(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	queueController := controller.NewQueueController(config.DB, manager, recovery, logger)
	trackingController := controller.NewTrackingController(store, config.AppConfig.TrackingSecret, logger)
	routes.SetupRoutes(app, queueController, trackingController)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Graceful shutdown: stop accepting requests, then drain the queues
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down...")
		cancel()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Queue shutdown incomplete")
		}
	}()

	// Start server
	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
