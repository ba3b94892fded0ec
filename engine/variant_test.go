package engine

import (
	"testing"

	"vitalpath/models"
)

func abVariants() []models.SequenceStep {
	return []models.SequenceStep{
		{StepOrder: 0, VariantGroup: "opener", VariantLabel: "A", Subject: "A"},
		{StepOrder: 0, VariantGroup: "opener", VariantLabel: "B", Subject: "B"},
	}
}

func TestPickVariantSticky(t *testing.T) {
	variants := abVariants()

	first := PickVariant(42, variants)
	for i := 0; i < 100; i++ {
		if got := PickVariant(42, variants); got.VariantLabel != first.VariantLabel {
			t.Fatalf("variant re-rolled on call %d: %s != %s", i, got.VariantLabel, first.VariantLabel)
		}
	}
}

func TestPickVariantSplitsRecipients(t *testing.T) {
	variants := abVariants()

	seen := map[string]bool{}
	for id := uint(1); id <= 50; id++ {
		seen[PickVariant(id, variants).VariantLabel] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Errorf("expected both variants across 50 recipients, got %v", seen)
	}
}

func TestPickVariantSingle(t *testing.T) {
	only := []models.SequenceStep{{StepOrder: 0, Subject: "solo"}}
	if got := PickVariant(7, only); got.Subject != "solo" {
		t.Errorf("single-element group must return its only member")
	}
}

func TestGroupStepsCollapsesVariants(t *testing.T) {
	steps := []models.SequenceStep{
		{StepOrder: 0, VariantGroup: "opener", VariantLabel: "A"},
		{StepOrder: 0, VariantGroup: "opener", VariantLabel: "B"},
		{StepOrder: 1},
		{StepOrder: 2},
	}

	groups := GroupSteps(steps)
	if len(groups) != 3 {
		t.Fatalf("expected 3 logical steps, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Errorf("variant group should hold both templates, got %d", len(groups[0]))
	}
	if len(groups[1]) != 1 || len(groups[2]) != 1 {
		t.Error("ungrouped steps must stay separate")
	}
}

func TestGroupStepsSameOrderWithoutGroup(t *testing.T) {
	steps := []models.SequenceStep{
		{StepOrder: 0},
		{StepOrder: 0},
	}

	groups := GroupSteps(steps)
	if len(groups) != 2 {
		t.Fatalf("steps without a variant group are distinct logical steps, got %d groups", len(groups))
	}
}
