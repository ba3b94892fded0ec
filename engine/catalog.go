package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"vitalpath/models"

	"gorm.io/gorm"
)

// Catalog file shapes. The marketing copy lives in a flat JSON data asset, not
// in compiled code, so content edits never touch control flow.
type catalogFile struct {
	Sequences []catalogSequence `json:"sequences"`
}

type catalogSequence struct {
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Family            string        `json:"family"`
	TriggerType       string        `json:"trigger_type"`
	TriggerTag        string        `json:"trigger_tag"`
	TriggerAfterDays  int           `json:"trigger_after_days"`
	RequireNoProgress bool          `json:"require_no_progress"`
	IsActive          bool          `json:"is_active"`
	ExitOnPurchase    bool          `json:"exit_on_purchase"`
	ExitOnReply       bool          `json:"exit_on_reply"`
	Steps             []catalogStep `json:"steps"`
}

type catalogStep struct {
	StepOrder    int    `json:"step_order"`
	DayOffset    int    `json:"day_offset"`
	HourOffset   int    `json:"hour_offset"`
	VariantGroup string `json:"variant_group"`
	VariantLabel string `json:"variant_label"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	RenderMode   string `json:"render_mode"`
	CTALabel     string `json:"cta_label"`
	CTAURL       string `json:"cta_url"`
}

// LoadCatalog reads the sequence catalog and upserts it into the template
// store. Existing steps are matched by (order, variant) and updated in place so
// delivery records keep pointing at stable step ids.
func LoadCatalog(db *gorm.DB, path string, logger *log.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}

	for _, cs := range file.Sequences {
		if err := upsertSequence(db, cs); err != nil {
			return fmt.Errorf("sequence %q: %w", cs.Name, err)
		}
	}
	logger.Printf("Catalog loaded: %d sequences from %s", len(file.Sequences), path)
	return nil
}

func upsertSequence(db *gorm.DB, cs catalogSequence) error {
	steps := make([]models.SequenceStep, len(cs.Steps))
	for i, s := range cs.Steps {
		renderMode := s.RenderMode
		if renderMode == "" {
			renderMode = models.RenderBranded
		}
		steps[i] = models.SequenceStep{
			StepOrder:    s.StepOrder,
			DayOffset:    s.DayOffset,
			HourOffset:   s.HourOffset,
			VariantGroup: s.VariantGroup,
			VariantLabel: s.VariantLabel,
			Subject:      s.Subject,
			Body:         s.Body,
			RenderMode:   renderMode,
			CTALabel:     s.CTALabel,
			CTAURL:       s.CTAURL,
		}
	}
	if err := ValidateStepOrder(steps); err != nil {
		return err
	}

	var seq models.Sequence
	err := db.Where("name = ?", cs.Name).First(&seq).Error
	if err == gorm.ErrRecordNotFound {
		seq = models.Sequence{Name: cs.Name}
	} else if err != nil {
		return err
	}

	seq.Description = cs.Description
	seq.Family = cs.Family
	seq.TriggerType = cs.TriggerType
	seq.TriggerTag = cs.TriggerTag
	seq.TriggerAfterDays = cs.TriggerAfterDays
	seq.RequireNoProgress = cs.RequireNoProgress
	seq.IsActive = cs.IsActive
	seq.ExitOnPurchase = cs.ExitOnPurchase
	seq.ExitOnReply = cs.ExitOnReply

	if err := db.Save(&seq).Error; err != nil {
		return err
	}

	for i := range steps {
		var existing models.SequenceStep
		err := db.Where("sequence_id = ? AND step_order = ? AND variant_group = ? AND variant_label = ?",
			seq.ID, steps[i].StepOrder, steps[i].VariantGroup, steps[i].VariantLabel).
			First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			steps[i].SequenceID = seq.ID
			if err := db.Create(&steps[i]).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		existing.DayOffset = steps[i].DayOffset
		existing.HourOffset = steps[i].HourOffset
		existing.Subject = steps[i].Subject
		existing.Body = steps[i].Body
		existing.RenderMode = steps[i].RenderMode
		existing.CTALabel = steps[i].CTALabel
		existing.CTAURL = steps[i].CTAURL
		if err := db.Save(&existing).Error; err != nil {
			return err
		}
	}
	return nil
}

// ValidateStepOrder enforces the template store invariant: day offsets are
// non-decreasing in execution order, and two templates share an offset only as
// variants of the same logical step or as distinct logical steps at the same
// day.
func ValidateStepOrder(steps []models.SequenceStep) error {
	lastOrder, lastDay := 0, 0
	for i, step := range steps {
		if step.DayOffset < 0 || step.HourOffset < 0 {
			return fmt.Errorf("step %d: negative offset", i)
		}
		if step.StepOrder < lastOrder {
			return fmt.Errorf("step %d: step_order decreases", i)
		}
		if step.StepOrder > lastOrder && step.DayOffset < lastDay {
			return fmt.Errorf("step %d: day_offset decreases across steps", i)
		}
		lastOrder, lastDay = step.StepOrder, step.DayOffset
	}
	return nil
}
