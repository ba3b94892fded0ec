package engine

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"vitalpath/config"
	"vitalpath/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "engine_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func createRecipient(t *testing.T, db *gorm.DB, email string) *models.Recipient {
	t.Helper()

	recipient := models.Recipient{
		Email:            email,
		FirstName:        "Jordan",
		LessonsCompleted: 2,
		LessonsTotal:     10,
		UnsubscribeToken: "tok-" + email,
	}
	if err := db.Create(&recipient).Error; err != nil {
		t.Fatalf("failed to create recipient: %v", err)
	}
	return &recipient
}

func createSender(t *testing.T, db *gorm.DB) *models.Sender {
	t.Helper()

	sender := models.Sender{
		Name:         "Primary",
		FromEmail:    "coach@vitalpath.co",
		FromName:     "Maya",
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: "coach",
		SMTPPassword: "secret",
		Encryption:   "STARTTLS",
		IsActive:     true,
		DailyLimit:   100,
		TrackOpens:   false,
		TrackClicks:  false,
	}
	if err := db.Create(&sender).Error; err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	return &sender
}

// createWelcomeSequence builds a two step onboarding sequence: step 0 at day 0
// and step 1 at day 1.
func createWelcomeSequence(t *testing.T, db *gorm.DB) *models.Sequence {
	t.Helper()

	seq := models.Sequence{
		Name:        "welcome",
		Family:      models.FamilyOnboarding,
		TriggerType: models.TriggerSignup,
		IsActive:    true,
		Steps: []models.SequenceStep{
			{
				StepOrder:  0,
				DayOffset:  0,
				Subject:    "Re: your access is ready",
				Body:       "<p>Hey {{first_name}}, you're in.</p>",
				RenderMode: models.RenderMinimal,
			},
			{
				StepOrder:  1,
				DayOffset:  1,
				Subject:    "Re: my story",
				Body:       "<p>{{first_name}}, quick story.</p>",
				RenderMode: models.RenderMinimal,
			},
		},
	}
	if err := db.Create(&seq).Error; err != nil {
		t.Fatalf("failed to create sequence: %v", err)
	}
	return &seq
}

func createEnrollment(t *testing.T, db *gorm.DB, recipientID, sequenceID uint, at time.Time) *models.Enrollment {
	t.Helper()

	enrollment := models.Enrollment{
		RecipientID: recipientID,
		SequenceID:  sequenceID,
		EnrolledAt:  at,
		Status:      models.EnrollmentActive,
	}
	if err := db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}
	return &enrollment
}
