// Package reconcile computes the create/update/delete/promote diff that
// moves a family from its current variant set to a desired one. Planning is
// pure; applying a plan is the executor's job.
package reconcile

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/family"
)

// DesiredLevel is one row of the administrator's variant matrix.
type DesiredLevel struct {
	Level     asset.SkillLevel `json:"skillLevel"`
	Threshold int              `json:"difficultyLevel"`
	Enabled   bool             `json:"enabled"`
}

type DesiredVariantSet struct {
	Levels []DesiredLevel `json:"levels"`
	Shared SharedAttrs    `json:"shared"`
}

// Enabled is a convenience constructor for tests and callers that only list
// the levels that should exist.
func Enabled(thresholds map[asset.SkillLevel]int) DesiredVariantSet {
	var d DesiredVariantSet
	for _, l := range asset.Levels {
		if t, ok := thresholds[l]; ok {
			d.Levels = append(d.Levels, DesiredLevel{Level: l, Threshold: t, Enabled: true})
		}
	}
	return d
}

// normalize validates d and returns enabled thresholds plus cleaned attrs.
func normalize(d DesiredVariantSet) (map[asset.SkillLevel]int, SharedAttrs, error) {
	v := &asset.ValidationError{Stage: "variants"}
	enabled := make(map[asset.SkillLevel]int)
	seen := make(map[asset.SkillLevel]bool)
	for i, dl := range d.Levels {
		field := fmt.Sprintf("levels[%d]", i)
		switch {
		case !dl.Level.Valid():
			v.Add(field, fmt.Sprintf("unknown skill level %q", dl.Level))
			continue
		case seen[dl.Level]:
			v.Add(field, fmt.Sprintf("duplicate skill level %q", dl.Level))
			continue
		}
		seen[dl.Level] = true
		if !dl.Enabled {
			continue
		}
		if dl.Threshold < 0 {
			v.Add(field, "threshold must not be negative")
			continue
		}
		enabled[dl.Level] = dl.Threshold
	}

	attrs := d.Shared
	if attrs.Title != nil {
		t := asset.StripLevelSuffix(*attrs.Title)
		if t == "" {
			v.Add("shared.title", "must not be empty")
		}
		attrs.Title = &t
	}
	if attrs.PositionTags != nil {
		attrs.PositionTags = normalizeTags(attrs.PositionTags)
	}
	if err := v.OrNil(); err != nil {
		return nil, SharedAttrs{}, err
	}
	return enabled, attrs, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

func sameTags(a, b []string) bool {
	return slices.Equal(normalizeTags(a), normalizeTags(b))
}

func strPtr(s string) *string { return &s }

// diffAttrs returns the writes needed to bring r to want. isBase selects the
// title form.
func diffAttrs(r asset.Record, want SharedAttrs, isBase bool) SharedAttrs {
	var out SharedAttrs
	if want.Title != nil {
		t := *want.Title
		if !isBase {
			t = asset.LevelTitle(t, r.SkillLevel)
		}
		if r.Title != t {
			out.Title = strPtr(t)
		}
	}
	if want.Description != nil && r.Description != *want.Description {
		out.Description = strPtr(*want.Description)
	}
	if want.Category != nil && r.Category != *want.Category {
		out.Category = strPtr(*want.Category)
	}
	if want.ExerciseType != nil && r.ExerciseType != *want.ExerciseType {
		out.ExerciseType = strPtr(*want.ExerciseType)
	}
	if want.PositionTags != nil && !sameTags(r.PositionTags, want.PositionTags) {
		out.PositionTags = slices.Clone(want.PositionTags)
	}
	return out
}

func byLevelThenID(a, b asset.Record) int {
	if d := a.SkillLevel.Rank() - b.SkillLevel.Rank(); d != 0 {
		return d
	}
	return strings.Compare(a.ID, b.ID)
}

// isBaseShaped is false for a provisional base picked during recovery, which
// still carries variant markers in the store.
func isBaseShaped(r asset.Record) bool {
	return !r.IsVariant && r.BaseVideoID == nil
}

// Validate reports whether desired is a well-formed request, independent of
// any family. Plan runs the same checks.
func Validate(desired DesiredVariantSet) error {
	_, _, err := normalize(desired)
	return err
}

// Plan computes the diff for f against desired, then verifies it by
// simulation before returning it.
func Plan(f family.Family, desired DesiredVariantSet) (VariantPlan, error) {
	enabled, attrs, err := normalize(desired)
	if err != nil {
		return VariantPlan{}, err
	}
	if f.Base.ID == "" {
		return VariantPlan{}, &asset.ValidationError{Stage: "variants", Fields: map[string]string{"base": "family has no base id"}}
	}
	p := plan(f, enabled, attrs)
	if err := check(f, enabled, attrs, p); err != nil {
		return VariantPlan{}, err
	}
	return p, nil
}

func plan(f family.Family, enabled map[asset.SkillLevel]int, attrs SharedAttrs) VariantPlan {
	base := f.Base
	variants := make([]asset.Record, 0, len(f.Variants))
	seen := map[string]bool{base.ID: true}
	for _, v := range f.Variants {
		if v.ID != "" && !seen[v.ID] {
			seen[v.ID] = true
			variants = append(variants, v)
		}
	}
	slices.SortFunc(variants, byLevelThenID)

	// One keeper per level; the base wins its own level. Extra same-level
	// records are deleted.
	keeper := map[asset.SkillLevel]asset.Record{base.SkillLevel: base}
	var deleteVariants []asset.Record
	for _, v := range variants {
		if _, taken := keeper[v.SkillLevel]; taken {
			deleteVariants = append(deleteVariants, v)
			continue
		}
		keeper[v.SkillLevel] = v
	}

	var survivors []asset.Record // kept variants whose level stays enabled
	for _, v := range variants {
		k, ok := keeper[v.SkillLevel]
		if !ok || k.ID != v.ID {
			continue
		}
		if _, on := enabled[v.SkillLevel]; on {
			survivors = append(survivors, v)
		} else {
			deleteVariants = append(deleteVariants, v)
		}
	}
	slices.SortFunc(deleteVariants, byLevelThenID)

	var toCreate []asset.SkillLevel
	for _, l := range asset.Levels {
		if _, on := enabled[l]; !on {
			continue
		}
		if _, have := keeper[l]; !have {
			toCreate = append(toCreate, l)
		}
	}

	var (
		p          VariantPlan
		deleteBase bool
		newBase    asset.Record
		promote    *Operation
	)
	_, baseKept := enabled[base.SkillLevel]
	switch {
	case baseKept:
		newBase = base
		if !isBaseShaped(base) {
			promote = &Operation{Kind: KindPromote, RecordID: base.ID, Level: base.SkillLevel, FromVariant: true}
		}
	case len(toCreate) > 0:
		// The lowest pending level is absorbed by re-tagging the base.
		newBase = base
		promote = &Operation{Kind: KindPromote, RecordID: base.ID, Level: toCreate[0], FromVariant: !isBaseShaped(base)}
		toCreate = toCreate[1:]
	case len(survivors) > 0:
		newBase = survivors[0]
		survivors = survivors[1:]
		deleteBase = true
		promote = &Operation{Kind: KindPromote, RecordID: newBase.ID, Level: newBase.SkillLevel, FromVariant: true}
	default:
		for _, v := range deleteVariants {
			p.Operations = append(p.Operations, Operation{Kind: KindDelete, RecordID: v.ID})
		}
		p.Operations = append(p.Operations, Operation{Kind: KindDelete, RecordID: base.ID})
		return p
	}
	p.BaseID = newBase.ID

	for _, v := range deleteVariants {
		p.Operations = append(p.Operations, Operation{Kind: KindDelete, RecordID: v.ID})
	}
	if deleteBase {
		p.Operations = append(p.Operations, Operation{Kind: KindDelete, RecordID: base.ID})
	}

	// Updates: survivors in level order, then the base when it stays as is.
	for _, v := range survivors {
		op := Operation{Kind: KindUpdate, RecordID: v.ID, Threshold: enabled[v.SkillLevel]}
		op.Attrs = diffAttrs(v, attrs, false)
		if v.BaseID() != newBase.ID || !v.IsVariant {
			op.Rebase = newBase.ID
		}
		if op.Threshold != v.DifficultyLevel || !op.Attrs.empty() || op.Rebase != "" {
			p.Operations = append(p.Operations, op)
		}
	}
	if promote == nil {
		op := Operation{Kind: KindUpdate, RecordID: base.ID, Threshold: enabled[base.SkillLevel]}
		op.Attrs = diffAttrs(base, attrs, true)
		if op.Threshold != base.DifficultyLevel || !op.Attrs.empty() {
			p.Operations = append(p.Operations, op)
		}
	}

	// The state the base will have once the plan is applied; creates copy it.
	final := newBase.Clone()
	if promote != nil {
		final.SkillLevel = promote.Level
		final.IsVariant = false
		final.BaseVideoID = nil
		final.Title = asset.StripLevelSuffix(final.Title)
	}
	attrs.applyTo(&final)

	for _, l := range toCreate {
		rec := final.Clone()
		rec.ID = ""
		rec.SkillLevel = l
		rec.DifficultyLevel = enabled[l]
		rec.IsVariant = true
		rec.BaseVideoID = asset.Ref(newBase.ID)
		rec.Title = asset.LevelTitle(final.Title, l)
		rec.CreatedAt, rec.UpdatedAt = time.Time{}, time.Time{}
		p.Operations = append(p.Operations, Operation{Kind: KindCreate, Level: l, Threshold: enabled[l], Record: &rec})
	}

	if promote != nil {
		promote.Threshold = enabled[promote.Level]
		want := attrs
		if want.Title == nil {
			want.Title = strPtr(asset.StripLevelSuffix(newBase.Title))
		}
		promote.Attrs = diffAttrs(newBase, want, true)
		p.Operations = append(p.Operations, *promote)
	}
	return p
}
