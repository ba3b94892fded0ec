package controller

import (
	"log"

	"vitalpath/models"
	"vitalpath/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SenderController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSenderController(db *gorm.DB, logger *log.Logger) *SenderController {
	return &SenderController{DB: db, Logger: logger}
}

type senderInput struct {
	Name      string `json:"name" validate:"required"`
	FromEmail string `json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name" validate:"required"`
	ReplyTo   string `json:"reply_to" validate:"omitempty,email"`

	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	Encryption   string `json:"encryption" validate:"required,oneof=SSL TLS STARTTLS NONE"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	DailyLimit int `json:"daily_limit" validate:"omitempty,min=1"`
}

// CreateSender registers an outbound identity. Credentials are encrypted
// before they reach the database.
func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	var input senderInput
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

	smtpPassword, err := utils.EncryptCredential(input.SMTPPassword)
	if err != nil {
		sc.Logger.Printf("Failed to encrypt SMTP password: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}
	imapPassword, err := utils.EncryptCredential(input.IMAPPassword)
	if err != nil {
		sc.Logger.Printf("Failed to encrypt IMAP password: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	sender := models.Sender{
		Name:         input.Name,
		FromEmail:    input.FromEmail,
		FromName:     input.FromName,
		ReplyTo:      input.ReplyTo,
		SMTPHost:     input.SMTPHost,
		SMTPPort:     input.SMTPPort,
		SMTPUsername: input.SMTPUsername,
		SMTPPassword: smtpPassword,
		Encryption:   input.Encryption,
		IMAPHost:     input.IMAPHost,
		IMAPPort:     input.IMAPPort,
		IMAPUsername: input.IMAPUsername,
		IMAPPassword: imapPassword,
	}
	if input.DailyLimit > 0 {
		sender.DailyLimit = input.DailyLimit
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		sc.Logger.Printf("Failed to create sender: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}

	sender.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(sender)
}

// ListSenders returns all senders with credentials stripped.
func (sc *SenderController) ListSenders(c *fiber.Ctx) error {
	var senders []models.Sender
	if err := sc.DB.Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}
	for i := range senders {
		senders[i].Sanitize()
	}
	return c.JSON(senders)
}

// SetSenderActive toggles a sender in or out of the rotation.
func (sc *SenderController) SetSenderActive(c *fiber.Ctx) error {
	var input struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var sender models.Sender
	if err := sc.DB.First(&sender, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	if err := sc.DB.Model(&sender).Update("is_active", input.IsActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sender",
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Sender updated",
		"is_active": input.IsActive,
	})
}
