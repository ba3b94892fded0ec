package controller

import (
	"encoding/json"
	"log"
	"time"

	"vitalpath/engine"
	"vitalpath/models"
	"vitalpath/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// EventController is the intake for recipient lifecycle events — the only
// entry point for enrollment creation.
type EventController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Enroller *engine.Enroller
}

func NewEventController(db *gorm.DB, logger *log.Logger) *EventController {
	return &EventController{
		DB:       db,
		Logger:   logger,
		Enroller: engine.NewEnroller(db, logger),
	}
}

type eventInput struct {
	EventType    string `json:"event_type" validate:"required,oneof=signup tag_added inactivity_detected milestone_completed purchase_completed unsubscribed"`
	Email        string `json:"email" validate:"required"`
	Tag          string `json:"tag"`
	DaysInactive int    `json:"days_inactive" validate:"min=0"`

	// Optional profile refresh carried on the event
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	LessonsCompleted *int       `json:"lessons_completed"`
	LessonsTotal     *int       `json:"lessons_total"`
	Progress         *float64   `json:"progress"`
	LastLoginAt      *time.Time `json:"last_login_at"`
	Source           string     `json:"source"`
}

// PostEvent consumes one lifecycle event. Malformed payloads are rejected;
// everything past validation is processed with errors logged and dropped so a
// bad event never stalls the pipeline for other recipients.
func (ec *EventController) PostEvent(c *fiber.Ctx) error {
	var input eventInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	recipient, err := ec.upsertRecipient(input)
	if err != nil {
		ec.Logger.Printf("Failed to upsert recipient %s: %v", input.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record recipient",
		})
	}

	payload, _ := json.Marshal(input)
	event := models.LifecycleEvent{
		RecipientID: recipient.ID,
		EventType:   input.EventType,
		Payload:     string(payload),
	}
	if err := ec.DB.Create(&event).Error; err != nil {
		ec.Logger.Printf("Failed to record lifecycle event: %v", err)
	}

	if err := ec.Enroller.HandleEvent(engine.Event{
		Type:         input.EventType,
		RecipientID:  recipient.ID,
		Tag:          input.Tag,
		DaysInactive: input.DaysInactive,
	}, time.Now()); err != nil {
		// Logged and dropped; the caller already did its part.
		utils.LogError("trigger_match_failed", err, map[string]interface{}{
			"event_type":   input.EventType,
			"recipient_id": recipient.ID,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":      "Event accepted",
		"recipient_id": recipient.ID,
	})
}

// Unsubscribe handles the tokenized footer link. Always responds with the
// confirmation page, even for unknown tokens.
func (ec *EventController) Unsubscribe(c *fiber.Ctx) error {
	token := c.Params("token")

	var recipient models.Recipient
	if err := ec.DB.Where("unsubscribe_token = ?", token).First(&recipient).Error; err == nil {
		if err := ec.Enroller.HandleEvent(engine.Event{
			Type:        models.TriggerUnsubscribed,
			RecipientID: recipient.ID,
		}, time.Now()); err != nil {
			ec.Logger.Printf("Unsubscribe failed for recipient %d: %v", recipient.ID, err)
		}
	}

	return c.SendString("You have been unsubscribed.")
}

func (ec *EventController) upsertRecipient(input eventInput) (*models.Recipient, error) {
	var recipient models.Recipient
	err := ec.DB.Where("email = ?", input.Email).First(&recipient).Error
	if err == gorm.ErrRecordNotFound {
		token, tokenErr := utils.NewUnsubscribeToken()
		if tokenErr != nil {
			return nil, tokenErr
		}
		recipient = models.Recipient{
			Email:            input.Email,
			Source:           input.Source,
			UnsubscribeToken: token,
		}
		if err := ec.DB.Create(&recipient).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.FirstName != "" {
		updates["first_name"] = input.FirstName
	}
	if input.LastName != "" {
		updates["last_name"] = input.LastName
	}
	if input.LessonsCompleted != nil {
		updates["lessons_completed"] = *input.LessonsCompleted
	}
	if input.LessonsTotal != nil {
		updates["lessons_total"] = *input.LessonsTotal
	}
	if input.Progress != nil {
		updates["progress"] = *input.Progress
	}
	if input.LastLoginAt != nil {
		updates["last_login_at"] = *input.LastLoginAt
	}
	if len(updates) > 0 {
		if err := ec.DB.Model(&recipient).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	if input.EventType == models.TriggerTagAdded && input.Tag != "" {
		var existing models.RecipientTag
		err := ec.DB.Where("recipient_id = ? AND tag = ?", recipient.ID, input.Tag).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := ec.DB.Create(&models.RecipientTag{RecipientID: recipient.ID, Tag: input.Tag}).Error; err != nil {
				return nil, err
			}
		}
	}

	return &recipient, nil
}
