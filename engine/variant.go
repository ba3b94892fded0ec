package engine

import (
	"fmt"
	"hash/fnv"

	"vitalpath/models"
)

// PickVariant selects one template out of a group of interchangeable variants
// for the same logical step. The choice is a pure function of the recipient and
// the variant group, so it is sticky per recipient across retries and
// re-enrollment and is never re-rolled. Intentionally reproducible; not
// security-sensitive randomness.
func PickVariant(recipientID uint, variants []models.SequenceStep) models.SequenceStep {
	if len(variants) == 1 {
		return variants[0]
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", recipientID, variants[0].VariantGroup)
	return variants[int(h.Sum64()%uint64(len(variants)))]
}

// GroupSteps collapses an ordered step list into logical steps: consecutive
// templates sharing a StepOrder and VariantGroup form one group. Templates at
// the same StepOrder with different groups (or no group) are separate logical
// steps and are all sent.
func GroupSteps(steps []models.SequenceStep) [][]models.SequenceStep {
	var groups [][]models.SequenceStep
	for _, step := range steps {
		n := len(groups)
		if n > 0 {
			last := groups[n-1]
			if step.VariantGroup != "" &&
				last[0].StepOrder == step.StepOrder &&
				last[0].VariantGroup == step.VariantGroup {
				groups[n-1] = append(last, step)
				continue
			}
		}
		groups = append(groups, []models.SequenceStep{step})
	}
	return groups
}
