package reconcile

import (
	"fmt"
	"slices"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/family"
)

func violation(name, format string, args ...any) error {
	return &asset.InvariantViolation{Invariant: name, Detail: fmt.Sprintf(format, args...)}
}

var kindOrder = map[Kind]int{KindDelete: 0, KindUpdate: 1, KindCreate: 2, KindPromote: 3}

// Simulate applies p to a snapshot of f and returns the resulting records,
// base first. Created records get placeholder ids ("planned-<index>").
func Simulate(f family.Family, p VariantPlan) ([]asset.Record, error) {
	state := make(map[string]asset.Record)
	var order []string
	for _, r := range f.Records() {
		if _, dup := state[r.ID]; dup || r.ID == "" {
			continue
		}
		state[r.ID] = r.Clone()
		order = append(order, r.ID)
	}

	levelTaken := func(l asset.SkillLevel, except string) bool {
		for id, r := range state {
			if id != except && r.SkillLevel == l {
				return true
			}
		}
		return false
	}

	for i, op := range p.Operations {
		switch op.Kind {
		case KindDelete:
			if _, ok := state[op.RecordID]; !ok {
				return nil, violation("plan-references", "op %d deletes unknown record %s", i, op.RecordID)
			}
			delete(state, op.RecordID)
		case KindUpdate:
			r, ok := state[op.RecordID]
			if !ok {
				return nil, violation("plan-references", "op %d updates unknown record %s", i, op.RecordID)
			}
			r.DifficultyLevel = op.Threshold
			op.Attrs.applyTo(&r)
			if op.Rebase != "" {
				r.BaseVideoID = asset.Ref(op.Rebase)
				r.IsVariant = true
			}
			state[op.RecordID] = r
		case KindCreate:
			if op.Record == nil {
				return nil, violation("plan-references", "op %d creates nothing", i)
			}
			if levelTaken(op.Record.SkillLevel, "") {
				return nil, violation("level-uniqueness", "op %d creates a second %s record", i, op.Record.SkillLevel)
			}
			id := fmt.Sprintf("planned-%d", i)
			r := op.Record.Clone()
			r.ID = id
			state[id] = r
			order = append(order, id)
		case KindPromote:
			r, ok := state[op.RecordID]
			if !ok {
				return nil, violation("plan-references", "op %d promotes unknown record %s", i, op.RecordID)
			}
			if levelTaken(op.Level, op.RecordID) {
				return nil, violation("level-uniqueness", "op %d promotes into occupied level %s", i, op.Level)
			}
			r.SkillLevel = op.Level
			r.DifficultyLevel = op.Threshold
			op.Attrs.applyTo(&r)
			if op.FromVariant {
				r.IsVariant = false
				r.BaseVideoID = nil
			}
			state[op.RecordID] = r
		default:
			return nil, violation("plan-references", "op %d has unknown kind %q", i, op.Kind)
		}
	}

	var out []asset.Record
	for _, id := range order {
		r, ok := state[id]
		if !ok {
			continue
		}
		if isBaseShaped(r) {
			out = append([]asset.Record{r}, out...)
		} else {
			out = append(out, r)
		}
	}
	return out, nil
}

// check verifies a freshly computed plan: ordering, the family invariants
// on the simulated result, and that re-planning the result is a no-op.
func check(f family.Family, enabled map[asset.SkillLevel]int, attrs SharedAttrs, p VariantPlan) error {
	promotes := 0
	for i, op := range p.Operations {
		if i > 0 && kindOrder[op.Kind] < kindOrder[p.Operations[i-1].Kind] {
			return violation("plan-order", "op %d (%s) after %s", i, op.Kind, p.Operations[i-1].Kind)
		}
		if op.Kind == KindPromote {
			promotes++
		}
	}
	if promotes > 1 {
		return violation("plan-order", "%d promotes", promotes)
	}

	result, err := Simulate(f, p)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		if len(result) != 0 {
			return violation("family-deletion", "%d records survive an empty desired set", len(result))
		}
		return nil
	}

	var bases []asset.Record
	levels := make(map[asset.SkillLevel]string)
	for _, r := range result {
		if isBaseShaped(r) {
			bases = append(bases, r)
		}
		if other, dup := levels[r.SkillLevel]; dup {
			return violation("level-uniqueness", "%s and %s share level %s", other, r.ID, r.SkillLevel)
		}
		levels[r.SkillLevel] = r.ID
	}
	if len(bases) != 1 {
		return violation("base-survival", "expected one base, got %d", len(bases))
	}
	base := bases[0]
	if base.ID != p.BaseID {
		return violation("base-survival", "plan names base %s, simulation ends with %s", p.BaseID, base.ID)
	}
	for _, r := range result {
		if r.ID != base.ID && (!r.IsVariant || r.BaseID() != base.ID) {
			return violation("family-closure", "%s does not reference base %s", r.ID, base.ID)
		}
		want, ok := enabled[r.SkillLevel]
		if !ok {
			return violation("desired-levels", "%s keeps disabled level %s", r.ID, r.SkillLevel)
		}
		if r.DifficultyLevel != want {
			return violation("desired-levels", "%s threshold %d, want %d", r.ID, r.DifficultyLevel, want)
		}
	}
	if len(levels) != len(enabled) {
		return violation("desired-levels", "result has %d levels, want %d", len(levels), len(enabled))
	}

	after := family.Family{Base: base, Variants: slices.Clone(result[1:])}
	if again := plan(after, enabled, attrs); !again.Empty() {
		return violation("convergence", "re-plan not empty: %s", again)
	}
	return nil
}
