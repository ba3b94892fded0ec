package controller

import (
	"encoding/json"
	"log"
	"time"

	"vitalpath/engine"
	"vitalpath/models"
	"vitalpath/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// BillingController turns Stripe checkout events into purchase_completed
// lifecycle events, the exit trigger that stops nurture for a buyer.
type BillingController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Enroller *engine.Enroller
}

func NewBillingController(db *gorm.DB, logger *log.Logger) *BillingController {
	return &BillingController{
		DB:       db,
		Logger:   logger,
		Enroller: engine.NewEnroller(db, logger),
	}
}

// HandleStripeWebhook verifies and processes Stripe webhook events.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return err
	}

	switch event.Type {
	case "checkout.session.completed":
		var session struct {
			CustomerDetails struct {
				Email string `json:"email"`
			} `json:"customer_details"`
		}
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			bc.Logger.Printf("Failed to parse checkout session: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid event payload",
			})
		}
		bc.handlePurchase(session.CustomerDetails.Email)
	default:
		bc.Logger.Printf("Ignoring Stripe event type %s", event.Type)
	}

	return c.JSON(fiber.Map{
		"received": true,
	})
}

func (bc *BillingController) handlePurchase(email string) {
	if email == "" {
		return
	}

	var recipient models.Recipient
	if err := bc.DB.Where("email = ?", email).First(&recipient).Error; err != nil {
		bc.Logger.Printf("Purchase for unknown recipient %s", email)
		return
	}

	payload, _ := json.Marshal(fiber.Map{"email": email, "source": "stripe"})
	if err := bc.DB.Create(&models.LifecycleEvent{
		RecipientID: recipient.ID,
		EventType:   models.TriggerPurchaseCompleted,
		Payload:     string(payload),
	}).Error; err != nil {
		bc.Logger.Printf("Failed to record purchase event: %v", err)
	}

	if err := bc.Enroller.HandleEvent(engine.Event{
		Type:        models.TriggerPurchaseCompleted,
		RecipientID: recipient.ID,
	}, time.Now()); err != nil {
		utils.LogError("purchase_exit_failed", err, map[string]interface{}{
			"recipient_id": recipient.ID,
		})
	}
}
