package worker

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"vitalpath/config"
	"vitalpath/engine"
	"vitalpath/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "worker_test.db")
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

func createQuietRecipient(t *testing.T, db *gorm.DB, email string, lastLogin time.Time) *models.Recipient {
	t.Helper()

	recipient := models.Recipient{Email: email, LastLoginAt: &lastLogin}
	if err := db.Create(&recipient).Error; err != nil {
		t.Fatalf("failed to create recipient: %v", err)
	}
	return &recipient
}

func createWinbackSequence(t *testing.T, db *gorm.DB) *models.Sequence {
	t.Helper()

	seq := models.Sequence{
		Name:             "winback",
		Family:           models.FamilyWinback,
		TriggerType:      models.TriggerInactivityDetected,
		TriggerAfterDays: 5,
		IsActive:         true,
		Steps: []models.SequenceStep{{
			StepOrder:  0,
			DayOffset:  0,
			Subject:    "Still here when you're ready",
			Body:       "<p>Come back</p>",
			RenderMode: models.RenderMinimal,
		}},
	}
	if err := db.Create(&seq).Error; err != nil {
		t.Fatalf("failed to create sequence: %v", err)
	}
	return &seq
}

func TestInactivityScanEnrollsQuietRecipients(t *testing.T) {
	db := setupTestDB(t)
	createWinbackSequence(t, db)
	enroller := engine.NewEnroller(db, testLogger())
	worker := NewInactivityWorker(db, enroller, 14, testLogger())

	now := time.Now().UTC()
	quiet := createQuietRecipient(t, db, "quiet@example.com", now.AddDate(0, 0, -20))
	active := createQuietRecipient(t, db, "active@example.com", now.AddDate(0, 0, -2))

	worker.Scan(now)

	var count int64
	db.Model(&models.Enrollment{}).Where("recipient_id = ?", quiet.ID).Count(&count)
	if count != 1 {
		t.Errorf("quiet recipient should be enrolled, got %d", count)
	}
	db.Model(&models.Enrollment{}).Where("recipient_id = ?", active.ID).Count(&count)
	if count != 0 {
		t.Errorf("recently active recipient must not be enrolled, got %d", count)
	}
}

func TestInactivityScanIsEdgeTriggered(t *testing.T) {
	db := setupTestDB(t)
	createWinbackSequence(t, db)
	enroller := engine.NewEnroller(db, testLogger())
	worker := NewInactivityWorker(db, enroller, 14, testLogger())

	now := time.Now().UTC()
	quiet := createQuietRecipient(t, db, "quiet@example.com", now.AddDate(0, 0, -20))

	worker.Scan(now)
	worker.Scan(now.Add(time.Hour))
	worker.Scan(now.Add(24 * time.Hour))

	var events int64
	db.Model(&models.LifecycleEvent{}).
		Where("recipient_id = ? AND event_type = ?", quiet.ID, models.TriggerInactivityDetected).
		Count(&events)
	if events != 1 {
		t.Errorf("repeated scans must not re-fire during the same quiet spell, got %d events", events)
	}
}

func TestInactivityScanRefiresAfterReturn(t *testing.T) {
	db := setupTestDB(t)
	createWinbackSequence(t, db)
	enroller := engine.NewEnroller(db, testLogger())
	worker := NewInactivityWorker(db, enroller, 14, testLogger())

	now := time.Now().UTC()
	recipient := createQuietRecipient(t, db, "comeback@example.com", now.AddDate(0, 0, -20))

	worker.Scan(now)

	// Recipient logs back in, then goes quiet again.
	returned := now.Add(time.Hour)
	if err := db.Model(recipient).Update("last_login_at", returned).Error; err != nil {
		t.Fatalf("failed to update login: %v", err)
	}

	later := returned.AddDate(0, 0, 20)
	worker.Scan(later)

	var events int64
	db.Model(&models.LifecycleEvent{}).
		Where("recipient_id = ? AND event_type = ?", recipient.ID, models.TriggerInactivityDetected).
		Count(&events)
	if events != 2 {
		t.Errorf("a fresh quiet spell should fire again, got %d events", events)
	}
}

func TestInactivityScanSkipsUnsubscribed(t *testing.T) {
	db := setupTestDB(t)
	createWinbackSequence(t, db)
	enroller := engine.NewEnroller(db, testLogger())
	worker := NewInactivityWorker(db, enroller, 14, testLogger())

	now := time.Now().UTC()
	recipient := createQuietRecipient(t, db, "optout@example.com", now.AddDate(0, 0, -20))
	db.Model(recipient).Update("is_unsubscribed", true)

	worker.Scan(now)

	var events int64
	db.Model(&models.LifecycleEvent{}).Where("recipient_id = ?", recipient.ID).Count(&events)
	if events != 0 {
		t.Errorf("unsubscribed recipient must not be scanned, got %d events", events)
	}
}
