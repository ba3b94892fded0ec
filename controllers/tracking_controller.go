package controller

import (
	"log"
	"time"

	"vitalpath/engine"
	"vitalpath/models"
	"vitalpath/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// transparent 1x1 GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackingController(db *gorm.DB, logger *log.Logger) *TrackingController {
	return &TrackingController{DB: db, Logger: logger}
}

// TrackOpen serves the pixel and records the open on the delivery record.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	if c.Params("token") == engine.TrackingToken(messageID) {
		tc.recordOpen(messageID)
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store")
	return c.Send(trackingPixel)
}

// TrackClick records the click and redirects to the original URL.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing url",
		})
	}

	if c.Params("token") == engine.TrackingToken(messageID) {
		tc.recordClick(messageID)
	}

	return c.Redirect(target, fiber.StatusFound)
}

func (tc *TrackingController) recordOpen(messageID string) {
	var record models.DeliveryRecord
	if err := tc.DB.Where("message_id = ?", messageID).First(&record).Error; err != nil {
		return
	}

	updates := map[string]interface{}{
		"open_count": gorm.Expr("open_count + ?", 1),
	}
	if record.OpenedAt == nil {
		updates["opened_at"] = utils.Pointer(time.Now())
	}
	if err := tc.DB.Model(&record).Updates(updates).Error; err != nil {
		tc.Logger.Printf("Failed to record open for %s: %v", messageID, err)
		return
	}

	if err := tc.DB.Model(&models.SequenceStep{}).
		Where("id = ?", record.StepID).
		Update("open_count", gorm.Expr("open_count + ?", 1)).Error; err != nil {
		tc.Logger.Printf("Failed to bump step open count: %v", err)
	}
}

func (tc *TrackingController) recordClick(messageID string) {
	var record models.DeliveryRecord
	if err := tc.DB.Where("message_id = ?", messageID).First(&record).Error; err != nil {
		return
	}

	updates := map[string]interface{}{
		"click_count": gorm.Expr("click_count + ?", 1),
	}
	if record.ClickedAt == nil {
		updates["clicked_at"] = utils.Pointer(time.Now())
	}
	if err := tc.DB.Model(&record).Updates(updates).Error; err != nil {
		tc.Logger.Printf("Failed to record click for %s: %v", messageID, err)
		return
	}

	if err := tc.DB.Model(&models.SequenceStep{}).
		Where("id = ?", record.StepID).
		Update("click_count", gorm.Expr("click_count + ?", 1)).Error; err != nil {
		tc.Logger.Printf("Failed to bump step click count: %v", err)
	}
}
