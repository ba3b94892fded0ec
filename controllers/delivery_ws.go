package controller

import (
	"log"
	"time"

	"vitalpath/config"
	"vitalpath/models"

	"github.com/gofiber/websocket/v2"
)

// HandleDeliveryFeedWS streams delivery records for an enrollment as they
// change. The client sends the enrollment ID once, then receives a snapshot
// every poll interval until it disconnects or the enrollment finishes.
func HandleDeliveryFeedWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		EnrollmentID uint `json:"enrollmentId"`
	}

	if err := c.ReadJSON(&input); err != nil {
		log.Printf("Error reading JSON: %v", err)
		return
	}
	if input.EnrollmentID == 0 {
		_ = c.WriteJSON(map[string]string{"error": "enrollmentId is required"})
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		var enrollment models.Enrollment
		if err := config.DB.First(&enrollment, input.EnrollmentID).Error; err != nil {
			_ = c.WriteJSON(map[string]string{"error": "Enrollment not found"})
			return
		}

		var deliveries []models.DeliveryRecord
		if err := config.DB.Where("enrollment_id = ?", enrollment.ID).
			Order("scheduled_for ASC").
			Find(&deliveries).Error; err != nil {
			log.Printf("Error fetching deliveries: %v", err)
			return
		}

		update := struct {
			Status      string                  `json:"status"`
			CurrentStep int                     `json:"currentStep"`
			Deliveries  []models.DeliveryRecord `json:"deliveries"`
		}{
			Status:      enrollment.Status,
			CurrentStep: enrollment.CurrentStep,
			Deliveries:  deliveries,
		}

		if err := c.WriteJSON(update); err != nil {
			log.Printf("Error writing JSON: %v", err)
			return
		}

		if enrollment.Status != models.EnrollmentActive {
			return
		}

		<-ticker.C
	}
}
