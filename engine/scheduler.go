package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"vitalpath/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scheduler scans the enrollment ledger and resolves due steps. It holds no
// state between passes: all progress lives in the ledger and the delivery
// recorder, so any number of instances may run concurrently. Correctness under
// concurrency rests on the recorder's claim semantics.
type Scheduler struct {
	DB          *gorm.DB
	Mailer      Mailer
	Recorder    *Recorder
	Senders     *SenderPool
	Logger      *log.Logger
	BaseURL     string
	SendTimeout time.Duration
}

func NewScheduler(db *gorm.DB, mailer Mailer, recorder *Recorder, senders *SenderPool, logger *log.Logger, baseURL string, sendTimeout time.Duration) *Scheduler {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Scheduler{
		DB:          db,
		Mailer:      mailer,
		Recorder:    recorder,
		Senders:     senders,
		Logger:      logger,
		BaseURL:     baseURL,
		SendTimeout: sendTimeout,
	}
}

// RunPass processes every active enrollment once. Per-enrollment failures are
// isolated: one recipient's trouble never halts the others. Only the initial
// ledger scan aborts the whole pass.
func (s *Scheduler) RunPass(ctx context.Context, now time.Time) error {
	var enrollments []models.Enrollment
	if err := s.DB.Where("status = ?", models.EnrollmentActive).
		Preload("Sequence.Steps").
		Preload("Recipient").
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("enrollment scan: %w", err)
	}

	for i := range enrollments {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.processEnrollment(ctx, &enrollments[i], now); err != nil {
			logrus.WithFields(logrus.Fields{
				"enrollment_id": enrollments[i].ID,
				"recipient_id":  enrollments[i].RecipientID,
				"error":         err.Error(),
			}).Error("enrollment processing failed")
		}
	}
	return nil
}

// processEnrollment walks the enrollment's logical steps strictly in order.
// Step N+1 is never evaluated while step N lacks a terminal delivery record,
// even across overlapping passes.
func (s *Scheduler) processEnrollment(ctx context.Context, enrollment *models.Enrollment, now time.Time) error {
	if enrollment.Recipient.IsUnsubscribed {
		return nil
	}

	groups := GroupSteps(enrollment.Sequence.StepsInOrder())
	if len(groups) == 0 {
		return nil
	}
	if enrollment.CurrentStep >= len(groups) {
		return s.complete(enrollment, now)
	}

	for idx := enrollment.CurrentStep; idx < len(groups); idx++ {
		step := PickVariant(enrollment.RecipientID, groups[idx])

		due := dueAt(enrollment.EnrolledAt, step)
		if now.Before(due) {
			return nil
		}

		record, outcome, err := s.Recorder.Claim(enrollment, step, due, now)
		if err != nil {
			return err
		}
		switch outcome {
		case NotEligible:
			return nil
		case AlreadyClaimed:
			if record == nil || !record.Terminal() {
				// Held by another worker or waiting out a retry backoff.
				return nil
			}
			// Terminal record written by an earlier pass; catch the pointer up.
			if err := s.advance(enrollment, idx, len(groups), now); err != nil {
				return err
			}
			continue
		}

		terminal, err := s.deliver(ctx, enrollment, step, record, now)
		if err != nil {
			return err
		}
		if !terminal {
			return nil
		}
		if err := s.advance(enrollment, idx, len(groups), now); err != nil {
			return err
		}
	}
	return nil
}

// deliver renders the claimed step and hands it to the outbound channel.
// Returns whether the delivery record reached a terminal state.
func (s *Scheduler) deliver(ctx context.Context, enrollment *models.Enrollment, step models.SequenceStep, record *models.DeliveryRecord, now time.Time) (bool, error) {
	recipient := enrollment.Recipient

	result, err := Render(step, RecipientTokens(recipient, s.BaseURL))
	if err != nil {
		// Render failure means "no email this cycle", never a broken email.
		s.Logger.Printf("Render failed for step %d of enrollment %d: %v", step.ID, enrollment.ID, err)
		return true, s.Recorder.MarkSkipped(record, err.Error())
	}
	for _, token := range result.Missing {
		s.Logger.Printf("Missing token %q in step %d for recipient %d", token, step.ID, recipient.ID)
	}

	sender, err := s.Senders.Rotate()
	if err != nil {
		if markErr := s.Recorder.MarkFailed(record, err.Error(), now); markErr != nil {
			return false, markErr
		}
		return record.Terminal(), nil
	}

	messageID := uuid.New().String()
	html := InjectTracking(result.HTML, s.BaseURL, messageID, sender.TrackOpens, sender.TrackClicks)

	sendCtx, cancel := context.WithTimeout(ctx, s.SendTimeout)
	defer cancel()

	providerID, err := s.Mailer.Send(sendCtx, sender, OutboundEmail{
		To:      recipient.Email,
		ToName:  recipient.FirstName,
		Subject: result.Subject,
		HTML:    html,
		Text:    result.Text,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"enrollment_id": enrollment.ID,
			"step_id":       step.ID,
			"sender_id":     sender.ID,
			"error":         err.Error(),
		}).Warn("send failed")

		if IsPermanentSendError(err) {
			if markErr := s.Recorder.MarkFailedTerminal(record, err.Error()); markErr != nil {
				return false, markErr
			}
			return true, nil
		}
		if markErr := s.Recorder.MarkFailed(record, err.Error(), now); markErr != nil {
			return false, markErr
		}
		return record.Terminal(), nil
	}

	if err := s.Recorder.MarkSent(record, messageID, providerID, now); err != nil {
		return false, err
	}
	if err := s.Senders.RecordUsage(sender.ID); err != nil {
		s.Logger.Printf("Failed to record sender usage: %v", err)
	}
	if err := s.DB.Model(&models.SequenceStep{}).
		Where("id = ?", step.ID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error; err != nil {
		s.Logger.Printf("Failed to bump step sent count: %v", err)
	}
	return true, nil
}

// advance moves the enrollment's progress marker past logical step idx and
// completes the enrollment when it was the last one.
func (s *Scheduler) advance(enrollment *models.Enrollment, idx, total int, now time.Time) error {
	enrollment.CurrentStep = idx + 1
	if enrollment.CurrentStep >= total {
		return s.complete(enrollment, now)
	}
	return s.DB.Model(enrollment).Update("current_step", enrollment.CurrentStep).Error
}

func (s *Scheduler) complete(enrollment *models.Enrollment, now time.Time) error {
	enrollment.Status = models.EnrollmentCompleted
	return s.DB.Model(enrollment).Updates(map[string]interface{}{
		"current_step": enrollment.CurrentStep,
		"status":       models.EnrollmentCompleted,
		"completed_at": now,
	}).Error
}

// dueAt computes when a step becomes eligible relative to the enrollment
// anchor.
func dueAt(anchor time.Time, step models.SequenceStep) time.Time {
	return anchor.
		Add(time.Duration(step.DayOffset) * 24 * time.Hour).
		Add(time.Duration(step.HourOffset) * time.Hour)
}

// RecipientTokens builds the placeholder context for a recipient. Missing
// profile fields get safe fallbacks rather than failing the render.
func RecipientTokens(recipient models.Recipient, baseURL string) map[string]string {
	firstName := recipient.FirstName
	if firstName == "" {
		firstName = "there"
	}
	lessonsLeft := recipient.LessonsTotal - recipient.LessonsCompleted
	if lessonsLeft < 0 {
		lessonsLeft = 0
	}

	tokens := map[string]string{
		"first_name":        firstName,
		"last_name":         recipient.LastName,
		"email":             recipient.Email,
		"lessons_left":      strconv.Itoa(lessonsLeft),
		"lessons_completed": strconv.Itoa(recipient.LessonsCompleted),
		"progress":          strconv.Itoa(int(recipient.Progress)) + "%",
	}
	if recipient.UnsubscribeToken != "" {
		tokens["unsubscribe_url"] = baseURL + "/unsubscribe/" + recipient.UnsubscribeToken
	}
	return tokens
}
