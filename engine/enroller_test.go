package engine

import (
	"testing"
	"time"

	"vitalpath/models"

	"gorm.io/gorm"
)

func createTriggeredSequence(t *testing.T, db *gorm.DB, seq models.Sequence) *models.Sequence {
	t.Helper()

	if len(seq.Steps) == 0 {
		seq.Steps = []models.SequenceStep{{
			StepOrder:  0,
			DayOffset:  0,
			Subject:    "hello",
			Body:       "<p>hello</p>",
			RenderMode: models.RenderMinimal,
		}}
	}
	if err := db.Create(&seq).Error; err != nil {
		t.Fatalf("failed to create sequence %q: %v", seq.Name, err)
	}
	return &seq
}

func activeEnrollments(t *testing.T, db *gorm.DB, recipientID uint) []models.Enrollment {
	t.Helper()

	var enrollments []models.Enrollment
	if err := db.Where("recipient_id = ? AND status = ?", recipientID, models.EnrollmentActive).
		Find(&enrollments).Error; err != nil {
		t.Fatalf("failed to list enrollments: %v", err)
	}
	return enrollments
}

func TestHandleEventEnrollsOnce(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "once@example.com")
	createTriggeredSequence(t, db, models.Sequence{
		Name:        "welcome",
		Family:      models.FamilyOnboarding,
		TriggerType: models.TriggerSignup,
		IsActive:    true,
	})

	now := time.Now().UTC()
	evt := Event{Type: models.TriggerSignup, RecipientID: recipient.ID}

	if err := enroller.HandleEvent(evt, now); err != nil {
		t.Fatalf("first event failed: %v", err)
	}
	if err := enroller.HandleEvent(evt, now.Add(time.Minute)); err != nil {
		t.Fatalf("second event failed: %v", err)
	}

	if got := len(activeEnrollments(t, db, recipient.ID)); got != 1 {
		t.Errorf("duplicate signup must not re-enroll: got %d enrollments", got)
	}
}

func TestHandleEventSkipsInactiveSequence(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "inactive-seq@example.com")
	createTriggeredSequence(t, db, models.Sequence{
		Name:        "welcome",
		Family:      models.FamilyOnboarding,
		TriggerType: models.TriggerSignup,
		IsActive:    false,
	})

	if err := enroller.HandleEvent(Event{Type: models.TriggerSignup, RecipientID: recipient.ID}, time.Now().UTC()); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 0 {
		t.Errorf("inactive sequence accepted an enrollment: %d", got)
	}
}

func TestHandleEventTagPredicate(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "tags@example.com")
	createTriggeredSequence(t, db, models.Sequence{
		Name:        "certification-nurture",
		Family:      models.FamilyNurture,
		TriggerType: models.TriggerTagAdded,
		TriggerTag:  "certification_interest",
		IsActive:    true,
	})

	now := time.Now().UTC()

	if err := enroller.HandleEvent(Event{Type: models.TriggerTagAdded, RecipientID: recipient.ID, Tag: "newsletter"}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 0 {
		t.Fatalf("non-matching tag must not enroll, got %d", got)
	}

	if err := enroller.HandleEvent(Event{Type: models.TriggerTagAdded, RecipientID: recipient.ID, Tag: "certification_interest"}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 1 {
		t.Errorf("matching tag should enroll, got %d", got)
	}
}

func TestHandleEventInactivityThreshold(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "quiet@example.com")
	createTriggeredSequence(t, db, models.Sequence{
		Name:             "winback",
		Family:           models.FamilyWinback,
		TriggerType:      models.TriggerInactivityDetected,
		TriggerAfterDays: 5,
		IsActive:         true,
	})

	now := time.Now().UTC()

	if err := enroller.HandleEvent(Event{Type: models.TriggerInactivityDetected, RecipientID: recipient.ID, DaysInactive: 3}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 0 {
		t.Fatalf("3 days inactive is under the 5-day threshold, got %d enrollments", got)
	}

	if err := enroller.HandleEvent(Event{Type: models.TriggerInactivityDetected, RecipientID: recipient.ID, DaysInactive: 7}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 1 {
		t.Errorf("7 days inactive should enroll, got %d", got)
	}
}

func TestUnsubscribedRecipientNeverEnrolled(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "gone@example.com")
	db.Model(recipient).Update("is_unsubscribed", true)
	recipient.IsUnsubscribed = true
	createTriggeredSequence(t, db, models.Sequence{
		Name:        "welcome",
		Family:      models.FamilyOnboarding,
		TriggerType: models.TriggerSignup,
		IsActive:    true,
	})

	if err := enroller.HandleEvent(Event{Type: models.TriggerSignup, RecipientID: recipient.ID}, time.Now().UTC()); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if got := len(activeEnrollments(t, db, recipient.ID)); got != 0 {
		t.Errorf("unsubscribed recipient was enrolled: %d", got)
	}
}

func TestPurchaseExitCancelsNurture(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "buyer@example.com")
	nurture := createTriggeredSequence(t, db, models.Sequence{
		Name:           "certification-nurture",
		Family:         models.FamilyNurture,
		TriggerType:    models.TriggerTagAdded,
		IsActive:       true,
		ExitOnPurchase: true,
	})

	now := time.Now().UTC()
	enrollment := createEnrollment(t, db, recipient.ID, nurture.ID, now)

	if err := enroller.HandleEvent(Event{Type: models.TriggerPurchaseCompleted, RecipientID: recipient.ID}, now.Add(time.Hour)); err != nil {
		t.Fatalf("purchase event failed: %v", err)
	}

	var stored models.Enrollment
	db.First(&stored, enrollment.ID)
	if stored.Status != models.EnrollmentCancelled {
		t.Errorf("nurture enrollment should be cancelled after purchase, got %s", stored.Status)
	}
	if stored.CancelReason != "purchase_completed" {
		t.Errorf("unexpected cancel reason %q", stored.CancelReason)
	}

	var buyer models.Recipient
	db.First(&buyer, recipient.ID)
	if buyer.PurchasedAt == nil {
		t.Error("purchase should be stamped on the recipient")
	}
}

func TestSalesFamilyExclusive(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "exclusive@example.com")
	nurture := createTriggeredSequence(t, db, models.Sequence{
		Name:        "certification-nurture",
		Family:      models.FamilyNurture,
		TriggerType: models.TriggerTagAdded,
		IsActive:    true,
	})
	winback := createTriggeredSequence(t, db, models.Sequence{
		Name:             "winback",
		Family:           models.FamilyWinback,
		TriggerType:      models.TriggerInactivityDetected,
		TriggerAfterDays: 5,
		IsActive:         true,
	})

	now := time.Now().UTC()
	nurtureEnrollment := createEnrollment(t, db, recipient.ID, nurture.ID, now)

	if err := enroller.HandleEvent(Event{
		Type: models.TriggerInactivityDetected, RecipientID: recipient.ID, DaysInactive: 10,
	}, now.Add(time.Hour)); err != nil {
		t.Fatalf("inactivity event failed: %v", err)
	}

	var old models.Enrollment
	db.First(&old, nurtureEnrollment.ID)
	if old.Status != models.EnrollmentCancelled {
		t.Errorf("competing sales enrollment should be cancelled, got %s", old.Status)
	}

	active := activeEnrollments(t, db, recipient.ID)
	if len(active) != 1 || active[0].SequenceID != winback.ID {
		t.Errorf("expected exactly the winback enrollment active, got %+v", active)
	}
}

func TestUnsubscribeCancelsEverything(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	recipient := createRecipient(t, db, "all-out@example.com")
	welcome := createTriggeredSequence(t, db, models.Sequence{
		Name:        "welcome",
		Family:      models.FamilyOnboarding,
		TriggerType: models.TriggerSignup,
		IsActive:    true,
	})
	nurture := createTriggeredSequence(t, db, models.Sequence{
		Name:        "certification-nurture",
		Family:      models.FamilyNurture,
		TriggerType: models.TriggerTagAdded,
		IsActive:    true,
	})

	now := time.Now().UTC()
	createEnrollment(t, db, recipient.ID, welcome.ID, now)
	createEnrollment(t, db, recipient.ID, nurture.ID, now)

	if err := enroller.HandleEvent(Event{Type: models.TriggerUnsubscribed, RecipientID: recipient.ID}, now.Add(time.Hour)); err != nil {
		t.Fatalf("unsubscribe event failed: %v", err)
	}

	if got := len(activeEnrollments(t, db, recipient.ID)); got != 0 {
		t.Errorf("unsubscribe must cancel all enrollments, %d still active", got)
	}
	var stored models.Recipient
	db.First(&stored, recipient.ID)
	if !stored.IsUnsubscribed {
		t.Error("recipient should be flagged unsubscribed")
	}
}

func TestNoProgressPredicate(t *testing.T) {
	db := setupTestDB(t)
	enroller := NewEnroller(db, testLogger())
	createTriggeredSequence(t, db, models.Sequence{
		Name:              "cold-start",
		Family:            models.FamilyOnboarding,
		TriggerType:       models.TriggerSignup,
		RequireNoProgress: true,
		IsActive:          true,
	})

	started := createRecipient(t, db, "started@example.com")
	db.Model(started).Update("progress", 20.0)

	fresh := createRecipient(t, db, "fresh@example.com")

	now := time.Now().UTC()
	if err := enroller.HandleEvent(Event{Type: models.TriggerSignup, RecipientID: started.ID}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if err := enroller.HandleEvent(Event{Type: models.TriggerSignup, RecipientID: fresh.ID}, now); err != nil {
		t.Fatalf("event failed: %v", err)
	}

	if got := len(activeEnrollments(t, db, started.ID)); got != 0 {
		t.Errorf("recipient with progress must be excluded, got %d", got)
	}
	if got := len(activeEnrollments(t, db, fresh.ID)); got != 1 {
		t.Errorf("recipient without progress should enroll, got %d", got)
	}
}
