package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"vitalpath/engine"
	"vitalpath/models"

	"gorm.io/gorm"
)

// InactivityWorker scans for recipients who have gone quiet and synthesizes
// inactivity_detected events for them. The scan is edge-triggered: once an
// event has fired for the current quiet spell it will not fire again until
// the recipient logs in and goes quiet once more.
type InactivityWorker struct {
	DB            *gorm.DB
	Enroller      *engine.Enroller
	ThresholdDays int
	Logger        *log.Logger
}

func NewInactivityWorker(db *gorm.DB, enroller *engine.Enroller, thresholdDays int, logger *log.Logger) *InactivityWorker {
	if thresholdDays <= 0 {
		thresholdDays = 14
	}
	return &InactivityWorker{
		DB:            db,
		Enroller:      enroller,
		ThresholdDays: thresholdDays,
		Logger:        logger,
	}
}

func (iw *InactivityWorker) Start(ctx context.Context) {
	time.Sleep(15 * time.Second)

	iw.Logger.Println("Inactivity worker started")

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			iw.Logger.Println("Inactivity worker shutting down...")
			return
		case <-ticker.C:
			iw.Scan(time.Now().UTC())
		}
	}
}

// Scan fires inactivity events for every recipient past the threshold.
func (iw *InactivityWorker) Scan(now time.Time) {
	cutoff := now.AddDate(0, 0, -iw.ThresholdDays)

	var recipients []models.Recipient
	if err := iw.DB.Where("is_unsubscribed = ? AND last_login_at IS NOT NULL AND last_login_at <= ?",
		false, cutoff).Find(&recipients).Error; err != nil {
		iw.Logger.Printf("Error scanning inactive recipients: %v", err)
		return
	}

	for _, recipient := range recipients {
		fired, err := iw.alreadyFired(&recipient)
		if err != nil {
			iw.Logger.Printf("Error checking fired state for recipient %d: %v", recipient.ID, err)
			continue
		}
		if fired {
			continue
		}

		daysInactive := int(now.Sub(*recipient.LastLoginAt).Hours() / 24)

		event := models.LifecycleEvent{
			RecipientID: recipient.ID,
			EventType:   models.TriggerInactivityDetected,
			Payload:     fmt.Sprintf(`{"days_inactive":%d}`, daysInactive),
		}
		if err := iw.DB.Create(&event).Error; err != nil {
			iw.Logger.Printf("Error recording inactivity event for recipient %d: %v", recipient.ID, err)
			continue
		}

		if err := iw.Enroller.HandleEvent(engine.Event{
			Type:         models.TriggerInactivityDetected,
			RecipientID:  recipient.ID,
			DaysInactive: daysInactive,
		}, now); err != nil {
			iw.Logger.Printf("Error handling inactivity event for recipient %d: %v", recipient.ID, err)
		}
	}
}

// alreadyFired reports whether an inactivity event exists for the current
// quiet spell, i.e. one created after the recipient's last login.
func (iw *InactivityWorker) alreadyFired(recipient *models.Recipient) (bool, error) {
	var count int64
	err := iw.DB.Model(&models.LifecycleEvent{}).
		Where("recipient_id = ? AND event_type = ? AND created_at > ?",
			recipient.ID, models.TriggerInactivityDetected, recipient.LastLoginAt).
		Count(&count).Error
	return count > 0, err
}
