package main

import (
	"context"
	"log"
	"os"
	"time"

	"vitalpath/config"
	"vitalpath/engine"
	"vitalpath/middleware"
	"vitalpath/routes"
	"vitalpath/utils"
	"vitalpath/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
)

func main() {
	logger := log.New(os.Stdout, "ENGINE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Load the sequence catalog
	if err := engine.LoadCatalog(config.DB, config.AppConfig.CatalogPath, logger); err != nil {
		logger.Fatalf("Failed to load sequence catalog: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Wire the sequence engine
	senderPool := engine.NewSenderPool(config.DB, log.New(os.Stdout, "SENDER: ", log.LstdFlags))
	recorder := engine.NewRecorder(config.DB, config.AppConfig.MaxSendAttempts)
	mailer := utils.NewGomailMailer()
	scheduler := engine.NewScheduler(
		config.DB,
		mailer,
		recorder,
		senderPool,
		logger,
		config.AppConfig.AppBaseURL,
		time.Duration(config.AppConfig.SendTimeoutSeconds)*time.Second,
	)
	enroller := engine.NewEnroller(config.DB, log.New(os.Stdout, "ENROLLER: ", log.LstdFlags))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background workers
	sequenceWorker := worker.NewSequenceWorker(scheduler,
		time.Duration(config.AppConfig.SchedulerInterval)*time.Second,
		log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	go sequenceWorker.Start(ctx)

	inactivityWorker := worker.NewInactivityWorker(config.DB, enroller,
		config.AppConfig.InactivityDays,
		log.New(os.Stdout, "INACTIVITY: ", log.LstdFlags))
	go inactivityWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(config.DB, enroller,
		log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	go replyWorker.Start(ctx)

	// Nightly sender quota reset
	go senderPool.ResetDailyCounters()

	// Setup routes
	routes.SetupRoutes(app, config.DB)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
