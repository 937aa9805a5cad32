package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/example/scout-platform/services/assets/internal/asset"
)

type Kind string

const (
	KindDelete  Kind = "delete"
	KindUpdate  Kind = "update"
	KindCreate  Kind = "create"
	KindPromote Kind = "promote"
)

// SharedAttrs are family-level attributes. As desired input, nil fields are
// left alone; on an operation they hold only what the operation writes, with
// the title already formatted for the target record.
type SharedAttrs struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Category     *string  `json:"category,omitempty"`
	ExerciseType *string  `json:"exerciseType,omitempty"`
	PositionTags []string `json:"positionSpecific,omitempty"`
}

func (a SharedAttrs) empty() bool {
	return a.Title == nil && a.Description == nil && a.Category == nil && a.ExerciseType == nil && a.PositionTags == nil
}

func (a SharedAttrs) patch(doc map[string]any) {
	if a.Title != nil {
		doc[asset.FieldTitle] = *a.Title
	}
	if a.Description != nil {
		doc[asset.FieldDescription] = *a.Description
	}
	if a.Category != nil {
		doc[asset.FieldCategory] = *a.Category
	}
	if a.ExerciseType != nil {
		doc[asset.FieldExerciseType] = *a.ExerciseType
	}
	if a.PositionTags != nil {
		doc[asset.FieldPositionTags] = slices.Clone(a.PositionTags)
	}
}

func (a SharedAttrs) applyTo(r *asset.Record) {
	if a.Title != nil {
		r.Title = *a.Title
	}
	if a.Description != nil {
		r.Description = *a.Description
	}
	if a.Category != nil {
		r.Category = *a.Category
	}
	if a.ExerciseType != nil {
		r.ExerciseType = *a.ExerciseType
	}
	if a.PositionTags != nil {
		r.PositionTags = slices.Clone(a.PositionTags)
	}
}

// Operation is one step of a Plan.
//
//   - delete:  RecordID
//   - update:  RecordID, Threshold, Attrs, optional Rebase (new baseVideoId)
//   - create:  Record, a complete variant referencing the surviving base
//   - promote: RecordID becomes the base at Level/Threshold with a plain
//     title; FromVariant also flips isVariant and clears baseVideoId
type Operation struct {
	Kind        Kind             `json:"kind"`
	RecordID    string           `json:"recordId,omitempty"`
	Level       asset.SkillLevel `json:"skillLevel,omitempty"`
	Threshold   int              `json:"difficultyLevel"`
	Attrs       SharedAttrs      `json:"attrs,omitzero"`
	Rebase      string           `json:"rebase,omitempty"`
	FromVariant bool             `json:"fromVariant,omitempty"`
	Record      *asset.Record    `json:"record,omitempty"`
}

func (o Operation) String() string {
	switch o.Kind {
	case KindCreate:
		if o.Record != nil {
			return fmt.Sprintf("create(%s, %d)", o.Record.SkillLevel, o.Record.DifficultyLevel)
		}
		return "create(?)"
	case KindUpdate:
		return fmt.Sprintf("update(%s, %d)", o.RecordID, o.Threshold)
	case KindPromote:
		return fmt.Sprintf("promote(%s -> base %s)", o.RecordID, o.Level)
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.RecordID)
}

// Patch renders the partial document written by an update or promote.
func (o Operation) Patch() map[string]any {
	doc := map[string]any{asset.FieldDifficultyLevel: o.Threshold}
	o.Attrs.patch(doc)
	switch o.Kind {
	case KindUpdate:
		if o.Rebase != "" {
			doc[asset.FieldBaseVideoID] = o.Rebase
			doc[asset.FieldIsVariant] = true
		}
	case KindPromote:
		doc[asset.FieldSkillLevel] = string(o.Level)
		if o.FromVariant {
			doc[asset.FieldIsVariant] = false
			doc[asset.FieldBaseVideoID] = nil
		}
	}
	return doc
}

// VariantPlan is the ordered diff for one family: deletes, updates,
// creates, then at most one promote. It is consumed once.
type VariantPlan struct {
	// BaseID is the family's base once the plan is applied; empty when the
	// plan deletes the whole family.
	BaseID     string      `json:"baseId"`
	Operations []Operation `json:"operations"`
}

func (p VariantPlan) Empty() bool { return len(p.Operations) == 0 }

func (p VariantPlan) Count(k Kind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == k {
			n++
		}
	}
	return n
}

func (p VariantPlan) String() string {
	parts := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
