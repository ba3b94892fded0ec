package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCancelled = "cancelled"
)

// Delivery record statuses
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// Enrollment is one recipient's progression through a sequence. EnrolledAt is
// the day-0 anchor every step offset is computed from.
type Enrollment struct {
	gorm.Model
	RecipientID uint `gorm:"not null;index:idx_enrollment_pair" json:"recipient_id"`
	SequenceID  uint `gorm:"not null;index:idx_enrollment_pair" json:"sequence_id"`

	EnrolledAt  time.Time `gorm:"not null" json:"enrolled_at"`
	CurrentStep int       `gorm:"default:0" json:"current_step"`
	Status      string    `gorm:"default:'active';index" json:"status"` // active, completed, cancelled

	CompletedAt  *time.Time `json:"completed_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelReason string     `json:"cancel_reason"`

	// Relations
	Recipient  Recipient        `json:"-"`
	Sequence   Sequence         `json:"-"`
	Deliveries []DeliveryRecord `gorm:"foreignKey:EnrollmentID" json:"deliveries,omitempty"`
}

// DeliveryRecord is the durable at-most-once proof that a given enrollment step
// was rendered and handed to the outbound channel. The unique index on
// (enrollment_id, step_id) is the concurrency primitive: racing workers both
// insert, exactly one row wins.
type DeliveryRecord struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;uniqueIndex:idx_delivery_claim" json:"enrollment_id"`
	StepID       uint `gorm:"not null;uniqueIndex:idx_delivery_claim" json:"step_id"`
	RecipientID  uint `gorm:"not null;index" json:"recipient_id"`

	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at"`
	Status       string     `gorm:"default:'pending';index" json:"status"` // pending, sent, failed, skipped

	MessageID         string     `gorm:"size:64;index" json:"message_id"` // internal id used in tracking URLs
	ProviderMessageID string     `gorm:"index" json:"provider_message_id"`
	Attempts          int        `gorm:"default:0" json:"attempts"`
	NextAttemptAt     *time.Time `json:"next_attempt_at"`
	LastError         string     `json:"last_error"`

	// Engagement tracking
	OpenedAt   *time.Time `json:"opened_at"`
	OpenCount  int        `gorm:"default:0" json:"open_count"`
	ClickedAt  *time.Time `json:"clicked_at"`
	ClickCount int        `gorm:"default:0" json:"click_count"`

	// Relations
	Enrollment Enrollment   `json:"-"`
	Step       SequenceStep `json:"-"`
}

// Terminal reports whether the record is in a state that lets the enrollment's
// step pointer move past it.
func (d *DeliveryRecord) Terminal() bool {
	return d.Status == DeliverySent || d.Status == DeliveryFailed || d.Status == DeliverySkipped
}
