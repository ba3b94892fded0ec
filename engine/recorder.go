package engine

import (
	"fmt"
	"time"

	"vitalpath/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimOutcome describes the result of a claim attempt.
type ClaimOutcome int

const (
	// Claimed means this caller owns the step and must render and send it.
	Claimed ClaimOutcome = iota
	// AlreadyClaimed means another worker holds the step, or it already has a
	// terminal record. Not an error; the caller skips it.
	AlreadyClaimed
	// NotEligible means the enrollment is no longer active, so the step must
	// never be sent.
	NotEligible
)

// Recorder is the single source of truth for "has this (enrollment, step) been
// sent". The unique index on (enrollment_id, step_id) makes concurrent claims
// from multiple workers collapse to a single winner without external locking.
type Recorder struct {
	DB          *gorm.DB
	MaxAttempts int
}

// claimLease bounds how long a claim may sit PENDING with no mark before
// another worker may take it over. A worker that dies between claiming and
// marking leaves an orphan; the lease makes it retakeable instead of wedging
// the enrollment forever.
const claimLease = 10 * time.Minute

func NewRecorder(db *gorm.DB, maxAttempts int) *Recorder {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Recorder{DB: db, MaxAttempts: maxAttempts}
}

// Claim atomically creates the PENDING delivery record for (enrollment, step),
// or takes over a pending record whose retry window has opened. The enrollment
// status is re-read first so a cancel that landed after the due scan still
// wins.
func (r *Recorder) Claim(enrollment *models.Enrollment, step models.SequenceStep, scheduledFor, now time.Time) (*models.DeliveryRecord, ClaimOutcome, error) {
	var fresh models.Enrollment
	if err := r.DB.First(&fresh, enrollment.ID).Error; err != nil {
		return nil, AlreadyClaimed, fmt.Errorf("reload enrollment %d: %w", enrollment.ID, err)
	}
	if fresh.Status != models.EnrollmentActive {
		return nil, NotEligible, nil
	}

	lease := now.Add(claimLease)
	record := models.DeliveryRecord{
		EnrollmentID:  enrollment.ID,
		StepID:        step.ID,
		RecipientID:   enrollment.RecipientID,
		ScheduledFor:  scheduledFor,
		Status:        models.DeliveryPending,
		Attempts:      0,
		NextAttemptAt: &lease,
	}

	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return nil, AlreadyClaimed, fmt.Errorf("claim insert: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &record, Claimed, nil
	}

	// Conflicting writer lost the insert race or a record already exists.
	var existing models.DeliveryRecord
	if err := r.DB.Where("enrollment_id = ? AND step_id = ?", enrollment.ID, step.ID).
		First(&existing).Error; err != nil {
		return nil, AlreadyClaimed, fmt.Errorf("load existing claim: %w", err)
	}
	if existing.Terminal() {
		return &existing, AlreadyClaimed, nil
	}

	// Pending record: re-claimable once its retry window has opened or its
	// claim lease has lapsed. A live claim always carries a future
	// next_attempt_at, so in-flight sends stay protected.
	if existing.NextAttemptAt != nil && now.Before(*existing.NextAttemptAt) {
		return &existing, AlreadyClaimed, nil
	}

	// Optimistic takeover; a concurrent retryer loses on rows affected. The
	// stale next_attempt_at value is part of the match so only one taker can
	// move the lease forward.
	next := now.Add(claimLease)
	query := r.DB.Model(&models.DeliveryRecord{}).
		Where("id = ? AND status = ? AND attempts = ?", existing.ID, models.DeliveryPending, existing.Attempts)
	if existing.NextAttemptAt == nil {
		query = query.Where("next_attempt_at IS NULL")
	} else {
		query = query.Where("next_attempt_at = ?", *existing.NextAttemptAt)
	}
	res = query.Update("next_attempt_at", next)
	if res.Error != nil {
		return nil, AlreadyClaimed, fmt.Errorf("retry claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &existing, AlreadyClaimed, nil
	}
	existing.NextAttemptAt = &next
	return &existing, Claimed, nil
}

// MarkSent records a successful handoff to the outbound channel. messageID is
// the internal id baked into the email's tracking URLs; providerMessageID is
// whatever the transport reported, possibly empty.
func (r *Recorder) MarkSent(record *models.DeliveryRecord, messageID, providerMessageID string, sentAt time.Time) error {
	updates := map[string]interface{}{
		"status":              models.DeliverySent,
		"sent_at":             sentAt,
		"message_id":          messageID,
		"provider_message_id": providerMessageID,
		"attempts":            gorm.Expr("attempts + 1"),
		"next_attempt_at":     nil,
		"last_error":          "",
	}
	if err := r.DB.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	record.Status = models.DeliverySent
	record.SentAt = &sentAt
	record.MessageID = messageID
	record.ProviderMessageID = providerMessageID
	record.NextAttemptAt = nil
	record.Attempts++
	return nil
}

// MarkFailed records a failed send. The record stays pending with a backoff
// window until the attempt budget is exhausted, then turns terminally FAILED so
// the sequence is not stuck forever.
func (r *Recorder) MarkFailed(record *models.DeliveryRecord, reason string, now time.Time) error {
	record.Attempts++
	updates := map[string]interface{}{
		"attempts":   record.Attempts,
		"last_error": reason,
	}
	if record.Attempts >= r.MaxAttempts {
		record.Status = models.DeliveryFailed
		updates["status"] = models.DeliveryFailed
		updates["next_attempt_at"] = nil
	} else {
		next := now.Add(retryBackoff(record.Attempts))
		record.NextAttemptAt = &next
		updates["next_attempt_at"] = next
	}
	if err := r.DB.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkFailedTerminal records a permanent transport failure (rejected address,
// refused content). No retries; the step pointer moves on.
func (r *Recorder) MarkFailedTerminal(record *models.DeliveryRecord, reason string) error {
	record.Attempts++
	record.Status = models.DeliveryFailed
	updates := map[string]interface{}{
		"attempts":        record.Attempts,
		"last_error":      reason,
		"status":          models.DeliveryFailed,
		"next_attempt_at": nil,
	}
	if err := r.DB.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark failed terminal: %w", err)
	}
	return nil
}

// MarkSkipped terminalizes a step that cannot be rendered. The enrollment moves
// on; the recipient gets no email for this step rather than a broken one.
func (r *Recorder) MarkSkipped(record *models.DeliveryRecord, reason string) error {
	updates := map[string]interface{}{
		"status":     models.DeliverySkipped,
		"last_error": reason,
	}
	if err := r.DB.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	record.Status = models.DeliverySkipped
	return nil
}

// retryBackoff doubles per attempt starting at 15 minutes.
func retryBackoff(attempts int) time.Duration {
	d := 15 * time.Minute
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
