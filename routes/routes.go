package routes

import (
	"log"
	"os"

	controller "vitalpath/controllers"
	"vitalpath/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

func SetupPublicRoutes(app *fiber.App, db *gorm.DB) {
	eventController := controller.NewEventController(db, log.New(os.Stdout, "EVENT: ", log.Ldate|log.Ltime|log.Lshortfile))
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACK: ", log.LstdFlags))
	billingController := controller.NewBillingController(db, log.New(os.Stdout, "BILLING: ", log.LstdFlags))

	// Event intake with rate limiting; this is the endpoint the LMS and
	// signup forms hit, so it gets its own access log.
	events := app.Group("/events", middleware.EventRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	events.Post("/", eventController.PostEvent)

	// One-click unsubscribe, linked from every rendered footer
	app.Get("/unsubscribe/:token", eventController.Unsubscribe)

	// Open/click tracking
	app.Get("/track/open/:messageID/:token", trackingController.TrackOpen)
	app.Get("/track/click/:messageID/:token", trackingController.TrackClick)

	// Stripe webhook (signature-verified, no auth middleware)
	app.Post("/webhooks/stripe", billingController.HandleStripeWebhook)

	log.Println("Public routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(db, log.New(os.Stdout, "ENROLLMENT: ", log.LstdFlags))
	senderController := controller.NewSenderController(db, log.New(os.Stdout, "SENDER: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.ListSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id/active", sequenceController.SetActive)
	sequence.Post("/:id/steps/:stepID/preview", sequenceController.PreviewStep)

	// Enrollment routes
	enrollment := api.Group("/enrollments")
	enrollment.Get("/", enrollmentController.ListEnrollments)
	enrollment.Get("/:id", enrollmentController.GetEnrollment)
	enrollment.Post("/:id/cancel", enrollmentController.CancelEnrollment)
	enrollment.Get("/:id/deliveries", enrollmentController.ListDeliveries)

	// Sender routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.ListSenders)
	sender.Put("/:id/active", senderController.SetSenderActive)

	// WebSocket route for live delivery progress
	app.Get("/api/v1/enrollments/feed", websocket.New(func(c *websocket.Conn) {
		controller.HandleDeliveryFeedWS(c)
	}))

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupPublicRoutes(app, db)
	SetupAPIRoutes(app, db)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
