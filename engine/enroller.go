package engine

import (
	"fmt"
	"log"
	"time"

	"vitalpath/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Event is a recipient lifecycle event consumed by the enroller. It is the only
// entry point for enrollment creation.
type Event struct {
	Type         string
	RecipientID  uint
	Tag          string // tag_added
	DaysInactive int    // inactivity_detected
}

// Enroller matches lifecycle events against sequence trigger specs, creates
// enrollments idempotently and applies exit triggers.
type Enroller struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewEnroller(db *gorm.DB, logger *log.Logger) *Enroller {
	return &Enroller{DB: db, Logger: logger}
}

// HandleEvent processes one lifecycle event: exit triggers first (so a
// purchase arriving together with another event always stops nurture), then
// enrollment into every matching active sequence. Matching is evaluated once
// per event, never continuously.
func (e *Enroller) HandleEvent(evt Event, now time.Time) error {
	var recipient models.Recipient
	if err := e.DB.First(&recipient, evt.RecipientID).Error; err != nil {
		return fmt.Errorf("recipient %d not found: %w", evt.RecipientID, err)
	}

	switch evt.Type {
	case models.TriggerPurchaseCompleted:
		if err := e.applyPurchaseExit(&recipient, now); err != nil {
			return err
		}
	case models.TriggerUnsubscribed:
		return e.applyUnsubscribe(&recipient, now)
	}

	var sequences []models.Sequence
	if err := e.DB.Where("trigger_type = ? AND is_active = ?", evt.Type, true).
		Preload("Steps").Find(&sequences).Error; err != nil {
		return fmt.Errorf("sequence lookup: %w", err)
	}

	for _, seq := range sequences {
		if !e.matches(seq, &recipient, evt) {
			continue
		}
		if err := e.Enroll(&seq, &recipient, now); err != nil {
			logrus.WithFields(logrus.Fields{
				"sequence_id":  seq.ID,
				"recipient_id": recipient.ID,
				"error":        err.Error(),
			}).Error("enrollment failed")
		}
	}
	return nil
}

// matches evaluates the optional trigger predicate.
func (e *Enroller) matches(seq models.Sequence, recipient *models.Recipient, evt Event) bool {
	if seq.TriggerTag != "" && seq.TriggerTag != evt.Tag {
		return false
	}
	if seq.TriggerAfterDays > 0 && evt.DaysInactive < seq.TriggerAfterDays {
		return false
	}
	if seq.RequireNoProgress && recipient.Progress > 0 {
		return false
	}
	return true
}

// Enroll upserts an enrollment: no-op when an active one already exists for the
// (recipient, sequence) pair. Enrolling into a sales-family sequence cancels
// any competing active sales enrollment first, so at most one is live per
// recipient.
func (e *Enroller) Enroll(seq *models.Sequence, recipient *models.Recipient, now time.Time) error {
	if recipient.IsUnsubscribed {
		return nil
	}

	var existing models.Enrollment
	err := e.DB.Where("recipient_id = ? AND sequence_id = ? AND status = ?",
		recipient.ID, seq.ID, models.EnrollmentActive).First(&existing).Error
	if err == nil {
		return nil // already enrolled
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("enrollment lookup: %w", err)
	}

	if isSalesFamily(seq.Family) {
		if err := e.cancelSalesEnrollments(recipient.ID, seq.ID, "superseded", now); err != nil {
			return err
		}
	}

	enrollment := models.Enrollment{
		RecipientID: recipient.ID,
		SequenceID:  seq.ID,
		EnrolledAt:  now,
		Status:      models.EnrollmentActive,
	}
	if err := e.DB.Create(&enrollment).Error; err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	e.Logger.Printf("Enrolled recipient %d into sequence %q", recipient.ID, seq.Name)
	return nil
}

// applyPurchaseExit stamps the purchase and cancels every active enrollment in
// a sequence that treats purchase as an exit trigger.
func (e *Enroller) applyPurchaseExit(recipient *models.Recipient, now time.Time) error {
	if recipient.PurchasedAt == nil {
		if err := e.DB.Model(recipient).Update("purchased_at", now).Error; err != nil {
			return fmt.Errorf("stamp purchase: %w", err)
		}
	}

	var enrollments []models.Enrollment
	if err := e.DB.Joins("JOIN sequences ON sequences.id = enrollments.sequence_id").
		Where("enrollments.recipient_id = ? AND enrollments.status = ? AND sequences.exit_on_purchase = ?",
			recipient.ID, models.EnrollmentActive, true).
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("purchase exit lookup: %w", err)
	}

	for i := range enrollments {
		if err := e.Cancel(&enrollments[i], "purchase_completed", now); err != nil {
			return err
		}
	}
	return nil
}

// applyUnsubscribe flags the recipient and cancels all of their active
// enrollments. An unsubscribed recipient never errors repeatedly; they simply
// stop receiving everything.
func (e *Enroller) applyUnsubscribe(recipient *models.Recipient, now time.Time) error {
	if err := e.DB.Model(recipient).Update("is_unsubscribed", true).Error; err != nil {
		return fmt.Errorf("flag unsubscribe: %w", err)
	}

	var enrollments []models.Enrollment
	if err := e.DB.Where("recipient_id = ? AND status = ?",
		recipient.ID, models.EnrollmentActive).Find(&enrollments).Error; err != nil {
		return fmt.Errorf("unsubscribe lookup: %w", err)
	}
	for i := range enrollments {
		if err := e.Cancel(&enrollments[i], "unsubscribed", now); err != nil {
			return err
		}
	}
	return nil
}

// Cancel durably moves an enrollment to CANCELLED. Pending steps become
// permanently ineligible; the claim path re-checks status so an in-flight
// scheduler pass resolves toward not sending.
func (e *Enroller) Cancel(enrollment *models.Enrollment, reason string, now time.Time) error {
	updates := map[string]interface{}{
		"status":        models.EnrollmentCancelled,
		"cancelled_at":  now,
		"cancel_reason": reason,
	}
	if err := e.DB.Model(enrollment).Updates(updates).Error; err != nil {
		return fmt.Errorf("cancel enrollment %d: %w", enrollment.ID, err)
	}
	enrollment.Status = models.EnrollmentCancelled
	e.Logger.Printf("Cancelled enrollment %d (%s)", enrollment.ID, reason)
	return nil
}

func (e *Enroller) cancelSalesEnrollments(recipientID, exceptSequenceID uint, reason string, now time.Time) error {
	var enrollments []models.Enrollment
	if err := e.DB.Joins("JOIN sequences ON sequences.id = enrollments.sequence_id").
		Where("enrollments.recipient_id = ? AND enrollments.status = ? AND enrollments.sequence_id != ? AND sequences.family IN ?",
			recipientID, models.EnrollmentActive, exceptSequenceID,
			[]string{models.FamilyNurture, models.FamilyWinback}).
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("sales enrollment lookup: %w", err)
	}
	for i := range enrollments {
		if err := e.Cancel(&enrollments[i], reason, now); err != nil {
			return err
		}
	}
	return nil
}

func isSalesFamily(family string) bool {
	return family == models.FamilyNurture || family == models.FamilyWinback
}
