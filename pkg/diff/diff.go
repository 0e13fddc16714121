package diff

import (
	"sort"

	"github.com/tagmesh/tagmesh/pkg/types"
)

// Plan is the minimal set of operations turning an applied entry set into a
// desired one. Slices are sorted by entry key so apply order is deterministic.
type Plan struct {
	Add       []types.CanonicalEntry
	Delete    []types.CanonicalEntry
	Modify    []types.CanonicalEntry
	Unchanged int
}

// Empty reports whether the plan carries no work
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Delete) == 0 && len(p.Modify) == 0
}

// Ops returns the number of operations the plan will issue
func (p Plan) Ops() int {
	return len(p.Add) + len(p.Delete) + len(p.Modify)
}

// Compute diffs the desired set against the applied set. Pure function:
// the output depends only on the two inputs.
//
//   - Add: desired keys absent from applied
//   - Delete: applied keys absent from desired
//   - Modify: keys in both with differing action params or priority
//   - Unchanged: keys in both and identical, counted but never re-sent
func Compute(desired, applied map[types.EntryKey]types.CanonicalEntry) Plan {
	var p Plan

	for key, want := range desired {
		have, ok := applied[key]
		switch {
		case !ok:
			p.Add = append(p.Add, want)
		case !want.Same(have):
			p.Modify = append(p.Modify, want)
		default:
			p.Unchanged++
		}
	}

	for key, have := range applied {
		if _, ok := desired[key]; !ok {
			p.Delete = append(p.Delete, have)
		}
	}

	sortEntries(p.Add)
	sortEntries(p.Delete)
	sortEntries(p.Modify)
	return p
}

func sortEntries(entries []types.CanonicalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key(), entries[j].Key()
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.MatchKey < b.MatchKey
	})
}
