package models

import (
	"time"

	"gorm.io/gorm"
)

// Recipient represents a single contact progressing through the coaching
// platform. The progress fields feed template tokens.
type Recipient struct {
	gorm.Model
	Email     string `gorm:"not null;uniqueIndex" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	// Course progress, supplied by the application layer
	LessonsCompleted int        `gorm:"default:0" json:"lessons_completed"`
	LessonsTotal     int        `gorm:"default:0" json:"lessons_total"`
	Progress         float64    `gorm:"default:0" json:"progress"`
	LastLoginAt      *time.Time `json:"last_login_at"`

	// Status
	IsUnsubscribed bool       `gorm:"default:false" json:"is_unsubscribed"`
	PurchasedAt    *time.Time `json:"purchased_at"`

	// Metadata
	Source           string `json:"source"`
	UnsubscribeToken string `gorm:"index" json:"-"`

	// Relations
	Tags        []RecipientTag `gorm:"foreignKey:RecipientID" json:"tags,omitempty"`
	Enrollments []Enrollment   `gorm:"foreignKey:RecipientID" json:"enrollments,omitempty"`
}

// RecipientTag is a free-form label used by tag_added triggers.
type RecipientTag struct {
	gorm.Model
	RecipientID uint   `gorm:"not null;index" json:"recipient_id"`
	Tag         string `gorm:"not null;index" json:"tag"`
}

// LifecycleEvent is the audit trail of every trigger event the engine consumed.
// The inactivity scan also reads it to stay edge-triggered: a recipient with a
// recent inactivity_detected event is not re-fired.
type LifecycleEvent struct {
	gorm.Model
	RecipientID uint   `gorm:"not null;index" json:"recipient_id"`
	EventType   string `gorm:"not null;index" json:"event_type"`
	Payload     string `gorm:"type:text" json:"payload"` // raw JSON as received
}
