package controller

import (
	"log"
	"time"

	"vitalpath/engine"
	"vitalpath/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type EnrollmentController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Enroller *engine.Enroller
}

func NewEnrollmentController(db *gorm.DB, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:       db,
		Logger:   logger,
		Enroller: engine.NewEnroller(db, logger),
	}
}

// ListEnrollments returns enrollments, optionally filtered by status or
// sequence.
func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	query := ec.DB.Order("created_at DESC").Limit(200)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if sequenceID := c.Query("sequence_id"); sequenceID != "" {
		query = query.Where("sequence_id = ?", sequenceID)
	}

	var enrollments []models.Enrollment
	if err := query.Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}
	return c.JSON(enrollments)
}

// GetEnrollment returns one enrollment with its delivery audit trail.
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	var enrollment models.Enrollment
	if err := ec.DB.Preload("Deliveries").First(&enrollment, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}
	return c.JSON(enrollment)
}

// CancelEnrollment stops an enrollment explicitly. Pending steps become
// permanently ineligible.
func (ec *EnrollmentController) CancelEnrollment(c *fiber.Ctx) error {
	var enrollment models.Enrollment
	if err := ec.DB.First(&enrollment, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}

	if enrollment.Status != models.EnrollmentActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Enrollment is not active",
		})
	}

	if err := ec.Enroller.Cancel(&enrollment, "admin_cancelled", time.Now()); err != nil {
		ec.Logger.Printf("Failed to cancel enrollment %d: %v", enrollment.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel enrollment",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Enrollment cancelled",
	})
}

// ListDeliveries returns the delivery records for one enrollment.
func (ec *EnrollmentController) ListDeliveries(c *fiber.Ctx) error {
	query := ec.DB.Where("enrollment_id = ?", c.Params("id")).
		Order("scheduled_for ASC").Limit(200)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var deliveries []models.DeliveryRecord
	if err := query.Find(&deliveries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deliveries",
		})
	}
	return c.JSON(deliveries)
}
