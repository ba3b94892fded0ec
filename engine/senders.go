package engine

import (
	"errors"
	"log"
	"time"

	"vitalpath/models"

	"gorm.io/gorm"
)

// ErrNoSenderCapacity means every active sender has exhausted its daily limit.
var ErrNoSenderCapacity = errors.New("no senders with available capacity")

// SenderPool rotates outbound identities by remaining daily capacity.
type SenderPool struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSenderPool(db *gorm.DB, logger *log.Logger) *SenderPool {
	return &SenderPool{DB: db, Logger: logger}
}

// Rotate selects the active sender with the most available capacity today.
func (sp *SenderPool) Rotate() (*models.Sender, error) {
	var senders []models.Sender
	if err := sp.DB.Where("is_active = ?", true).Find(&senders).Error; err != nil {
		return nil, err
	}

	if len(senders) == 0 {
		return nil, errors.New("no active senders available")
	}

	var best *models.Sender
	maxAvailable := 0
	for i := range senders {
		available := senders[i].DailyLimit - senders[i].SentToday
		if available > maxAvailable {
			maxAvailable = available
			best = &senders[i]
		}
	}

	if best == nil || maxAvailable <= 0 {
		return nil, ErrNoSenderCapacity
	}
	return best, nil
}

// RecordUsage increments the sender's daily and lifetime counters.
func (sp *SenderPool) RecordUsage(senderID uint) error {
	return sp.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + ?", 1),
			"total_sent": gorm.Expr("total_sent + ?", 1),
		}).Error
}

// ResetDailyCounters resets all sender counters at midnight. Run as a
// goroutine.
func (sp *SenderPool) ResetDailyCounters() {
	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(time.Until(nextMidnight))

		if err := sp.DB.Model(&models.Sender{}).
			Where("sent_today > 0").
			Update("sent_today", 0).
			Error; err != nil {
			sp.Logger.Printf("Failed to reset sender counters: %v", err)
		} else {
			sp.Logger.Println("Successfully reset sender daily counters")
		}
	}
}
