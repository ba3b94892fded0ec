package controller

import (
	"log"

	"vitalpath/engine"
	"vitalpath/models"
	"vitalpath/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger}
}

type sequenceInput struct {
	Name              string      `json:"name" validate:"required,max=200"`
	Description       string      `json:"description"`
	Family            string      `json:"family" validate:"required,oneof=onboarding nurture winback milestone"`
	TriggerType       string      `json:"trigger_type" validate:"required,oneof=signup tag_added inactivity_detected milestone_completed purchase_completed"`
	TriggerTag        string      `json:"trigger_tag"`
	TriggerAfterDays  int         `json:"trigger_after_days" validate:"min=0"`
	RequireNoProgress bool        `json:"require_no_progress"`
	ExitOnPurchase    *bool       `json:"exit_on_purchase"`
	ExitOnReply       bool        `json:"exit_on_reply"`
	Steps             []stepInput `json:"steps" validate:"required,min=1,dive"`
}

type stepInput struct {
	StepOrder    int    `json:"step_order" validate:"min=0"`
	DayOffset    int    `json:"day_offset" validate:"min=0"`
	HourOffset   int    `json:"hour_offset" validate:"min=0,max=23"`
	VariantGroup string `json:"variant_group"`
	VariantLabel string `json:"variant_label"`
	Subject      string `json:"subject" validate:"required"`
	Body         string `json:"body" validate:"required"`
	RenderMode   string `json:"render_mode" validate:"omitempty,oneof=minimal branded"`
	CTALabel     string `json:"cta_label"`
	CTAURL       string `json:"cta_url"`
}

// CreateSequence creates a sequence with its steps. New sequences start
// inactive; activation is an explicit step.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input sequenceInput
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

	steps := make([]models.SequenceStep, len(input.Steps))
	for i, s := range input.Steps {
		renderMode := s.RenderMode
		if renderMode == "" {
			renderMode = models.RenderBranded
		}
		steps[i] = models.SequenceStep{
			StepOrder:    s.StepOrder,
			DayOffset:    s.DayOffset,
			HourOffset:   s.HourOffset,
			VariantGroup: s.VariantGroup,
			VariantLabel: s.VariantLabel,
			Subject:      s.Subject,
			Body:         s.Body,
			RenderMode:   renderMode,
			CTALabel:     s.CTALabel,
			CTAURL:       s.CTAURL,
		}
	}
	if err := engine.ValidateStepOrder(steps); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	exitOnPurchase := true
	if input.ExitOnPurchase != nil {
		exitOnPurchase = *input.ExitOnPurchase
	}

	sequence := models.Sequence{
		Name:              input.Name,
		Description:       input.Description,
		Family:            input.Family,
		TriggerType:       input.TriggerType,
		TriggerTag:        input.TriggerTag,
		TriggerAfterDays:  input.TriggerAfterDays,
		RequireNoProgress: input.RequireNoProgress,
		ExitOnPurchase:    exitOnPurchase,
		ExitOnReply:       input.ExitOnReply,
		Steps:             steps,
	}

	if err := sc.DB.Create(&sequence).Error; err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sequence)
}

// ListSequences returns all sequences without step bodies.
func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	var sequences []models.Sequence
	if err := sc.DB.Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}
	return c.JSON(sequences)
}

// GetSequence returns one sequence with its steps in execution order.
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := sc.DB.Preload("Steps").First(&sequence, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	sequence.Steps = sequence.StepsInOrder()
	return c.JSON(sequence)
}

// SetActive toggles whether a sequence accepts new enrollments. Existing
// enrollments keep processing either way.
func (sc *SequenceController) SetActive(c *fiber.Ctx) error {
	var input struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var sequence models.Sequence
	if err := sc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := sc.DB.Model(&sequence).Update("is_active", input.IsActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Sequence updated",
		"is_active": input.IsActive,
	})
}

// PreviewStep renders a step against sample recipient data so operators can
// check both encodings before activating.
func (sc *SequenceController) PreviewStep(c *fiber.Ctx) error {
	var step models.SequenceStep
	if err := sc.DB.First(&step, c.Params("stepID")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Step not found",
		})
	}

	sample := models.Recipient{
		Email:            "preview@example.com",
		FirstName:        "Jordan",
		LessonsCompleted: 3,
		LessonsTotal:     12,
		Progress:         25,
		UnsubscribeToken: "preview-token",
	}
	result, err := engine.Render(step, engine.RecipientTokens(sample, "https://app.vitalpath.example"))
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"subject": result.Subject,
		"html":    result.HTML,
		"text":    result.Text,
		"missing": result.Missing,
	})
}
