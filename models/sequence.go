package models

import "gorm.io/gorm"

// Sequence family tags. Replaces the old convention of encoding the family in
// numeric template id ranges.
const (
	FamilyOnboarding = "onboarding"
	FamilyNurture    = "nurture"
	FamilyWinback    = "winback"
	FamilyMilestone  = "milestone"
)

// Trigger event types accepted on the intake endpoint and synthesized by workers.
const (
	TriggerSignup             = "signup"
	TriggerTagAdded           = "tag_added"
	TriggerInactivityDetected = "inactivity_detected"
	TriggerMilestoneCompleted = "milestone_completed"
	TriggerPurchaseCompleted  = "purchase_completed"
	TriggerUnsubscribed       = "unsubscribed"
)

// Render modes for a step's HTML output.
const (
	RenderMinimal = "minimal"
	RenderBranded = "branded"
)

// Sequence represents a multi-day drip campaign keyed off a lifecycle trigger
type Sequence struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"`
	Description string `json:"description"`
	Family      string `gorm:"not null;index" json:"family"` // onboarding, nurture, winback, milestone

	// Trigger specification: event type plus optional predicate
	TriggerType       string `gorm:"not null;index" json:"trigger_type"`
	TriggerTag        string `json:"trigger_tag"`        // for tag_added
	TriggerAfterDays  int    `json:"trigger_after_days"` // for inactivity_detected
	RequireNoProgress bool   `gorm:"default:false" json:"require_no_progress"`

	// Inactive sequences accept no new enrollments; existing enrollments are
	// still processed to completion.
	IsActive bool `gorm:"default:false" json:"is_active"`

	// A purchase cancels active enrollments in this sequence when set.
	ExitOnPurchase bool `gorm:"default:true" json:"exit_on_purchase"`
	ExitOnReply    bool `gorm:"default:false" json:"exit_on_reply"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep is one timed email in a sequence. Steps sharing a StepOrder with
// different VariantGroup labels are interchangeable A/B variants of the same
// logical step.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index;uniqueIndex:idx_step_order_variant" json:"sequence_id"`

	StepOrder  int `gorm:"not null;uniqueIndex:idx_step_order_variant" json:"step_order"`
	DayOffset  int `gorm:"not null" json:"day_offset"`
	HourOffset int `gorm:"default:0" json:"hour_offset"`

	VariantGroup string `gorm:"uniqueIndex:idx_step_order_variant" json:"variant_group"`
	VariantLabel string `json:"variant_label"` // e.g. "A", "B"

	Subject    string `gorm:"not null" json:"subject"`
	Body       string `gorm:"type:text;not null" json:"body"`
	RenderMode string `gorm:"default:'branded'" json:"render_mode"` // minimal, branded

	// Structured call-to-action; expands to a button in branded HTML and a plain
	// URL line in text.
	CTALabel string `json:"cta_label"`
	CTAURL   string `json:"cta_url"`

	// Tracking (denormalized for dashboards)
	SentCount  int `gorm:"default:0" json:"sent_count"`
	OpenCount  int `gorm:"default:0" json:"open_count"`
	ClickCount int `gorm:"default:0" json:"click_count"`
}

// StepsInOrder returns the sequence's steps sorted by execution order with
// variants of the same logical step grouped together.
func (s *Sequence) StepsInOrder() []SequenceStep {
	steps := make([]SequenceStep, len(s.Steps))
	copy(steps, s.Steps)
	for i := 1; i < len(steps); i++ {
		for j := i; j > 0 && less(steps[j], steps[j-1]); j-- {
			steps[j], steps[j-1] = steps[j-1], steps[j]
		}
	}
	return steps
}

func less(a, b SequenceStep) bool {
	if a.StepOrder != b.StepOrder {
		return a.StepOrder < b.StepOrder
	}
	return a.VariantLabel < b.VariantLabel
}
