// Package family derives base+variant groups from a flat window of asset
// records using their weak baseVideoId back-references.
package family

import (
	"slices"

	"github.com/example/scout-platform/services/assets/internal/asset"
)

// Family is a base record plus every record in view that references it.
// It is never persisted.
type Family struct {
	Base     asset.Record   `json:"base"`
	Variants []asset.Record `json:"variants"`
}

// Records returns base first, then variants in their current order.
func (f Family) Records() []asset.Record {
	out := make([]asset.Record, 0, 1+len(f.Variants))
	out = append(out, f.Base)
	return append(out, f.Variants...)
}

// IDs lists every record id in the family.
func (f Family) IDs() []string {
	out := make([]string, 0, 1+len(f.Variants))
	for _, r := range f.Records() {
		out = append(out, r.ID)
	}
	return out
}

// Orphaned reports whether the family is a variant whose base was not in
// the window it was grouped from.
func (f Family) Orphaned() bool {
	return f.Base.IsVariant
}

// Group partitions records into families. A variant attaches to its base when
// the base is in the same window; anything else, including a variant whose
// base is on another page, becomes its own singleton family. Group never
// drops a record. Families appear in order of first sighting of either side.
func Group(records []asset.Record) []Family {
	// A repeated id resolves to its first occurrence; later copies stay
	// visible as their own cards.
	byID := make(map[string]int, len(records))
	for i, r := range records {
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = i
		}
	}

	// baseOf resolves a record to the index of the base it groups under.
	baseOf := func(i int) int {
		r := records[i]
		if !r.IsVariant || r.BaseID() == "" || r.BaseID() == r.ID {
			return i
		}
		j, ok := byID[r.BaseID()]
		if !ok || records[j].IsVariant {
			return i
		}
		return j
	}

	slot := make(map[int]int) // base index -> output position
	var out []Family
	for i := range records {
		b := baseOf(i)
		pos, ok := slot[b]
		if !ok {
			pos = len(out)
			slot[b] = pos
			out = append(out, Family{Base: records[b].Clone()})
		}
		if b != i {
			out[pos].Variants = append(out[pos].Variants, records[i].Clone())
		}
	}
	return out
}

// Records flattens families back into one slice.
func Records(families []Family) []asset.Record {
	var out []asset.Record
	for _, f := range families {
		out = append(out, f.Records()...)
	}
	return out
}

// SortVariants orders variants by skill level, then id, for stable display
// and planning.
func (f *Family) SortVariants() {
	slices.SortStableFunc(f.Variants, func(a, b asset.Record) int {
		if d := a.SkillLevel.Rank() - b.SkillLevel.Rank(); d != 0 {
			return d
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
