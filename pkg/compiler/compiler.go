package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tagmesh/tagmesh/pkg/types"
)

// fieldWidths maps known header-field names (by their unqualified suffix) to
// their bit width. Used both to default unspecified prefix lengths to "exact"
// and to weight priorities.
var fieldWidths = map[string]int{
	"srcAddr":   32,
	"dstAddr":   32,
	"diffserv":  8,
	"protocol":  8,
	"ttl":       8,
	"srcPort":   16,
	"dstPort":   16,
	"etherType": 16,
}

// defaultFieldWidth is used for header fields the width table does not know
const defaultFieldWidth = 32

// FieldWidth returns the bit width of a header field. Qualified P4 names
// ("hdr.ipv4.srcAddr") resolve through their last component.
func FieldWidth(field string) int {
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if w, ok := fieldWidths[field]; ok {
		return w
	}
	return defaultFieldWidth
}

// effectivePrefixLen returns the prefix length used for key rendering and
// priority: the rule's own, or the field width for exact matches.
func effectivePrefixLen(field string, m types.MatchField) int {
	if m.PrefixLen > 0 {
		return m.PrefixLen
	}
	return FieldWidth(field)
}

// CompileTag canonicalizes a tag rule. Priority is the sum of effective
// prefix lengths across all matched fields, so longer prefixes and more
// matched fields always outrank shorter and fewer.
func CompileTag(r *types.TagRule) types.CanonicalEntry {
	priority := 0
	for f, m := range r.Match {
		priority += effectivePrefixLen(f, m)
	}
	return types.CanonicalEntry{
		SwitchName: r.SwitchName,
		Table:      types.TableTag,
		MatchKey:   types.RenderMatchKey(r.Match, FieldWidth),
		Action:     types.ActionParams{SetTag: r.TagValue},
		Priority:   int32(priority),
	}
}

// CompileFilter canonicalizes a filter rule. The filter table matches the
// tag value itself, exact over its full width, so the key is synthetic and
// priority stays 0.
func CompileFilter(r *types.FilterRule) types.CanonicalEntry {
	return types.CanonicalEntry{
		SwitchName: r.SwitchName,
		Table:      types.TableFilter,
		MatchKey:   fmt.Sprintf("tag=%d", r.TagValue),
		Action:     types.ActionParams{Drop: true},
		Priority:   0,
	}
}

// CompileSwitch builds the full desired canonical set for one switch from
// that switch's rules. When two rules canonicalize to the same key, the rule
// with the higher persisted id wins and the loser is reported shadowed; the
// result never depends on input ordering.
func CompileSwitch(switchName string, tagRules []*types.TagRule, filterRules []*types.FilterRule) (map[types.EntryKey]types.CanonicalEntry, []types.ShadowedRule) {
	type candidate struct {
		id    int64
		entry types.CanonicalEntry
	}

	byKey := make(map[types.EntryKey][]candidate)

	for _, r := range tagRules {
		if r.SwitchName != switchName {
			continue
		}
		e := CompileTag(r)
		byKey[e.Key()] = append(byKey[e.Key()], candidate{id: r.ID, entry: e})
	}
	for _, r := range filterRules {
		if r.SwitchName != switchName {
			continue
		}
		e := CompileFilter(r)
		byKey[e.Key()] = append(byKey[e.Key()], candidate{id: r.ID, entry: e})
	}

	entries := make(map[types.EntryKey]types.CanonicalEntry, len(byKey))
	var shadowed []types.ShadowedRule

	for key, cands := range byKey {
		sort.Slice(cands, func(i, j int) bool { return cands[i].id < cands[j].id })
		winner := cands[len(cands)-1]
		entries[key] = winner.entry
		for _, loser := range cands[:len(cands)-1] {
			shadowed = append(shadowed, types.ShadowedRule{
				RuleID:     loser.id,
				WinnerID:   winner.id,
				SwitchName: switchName,
				Table:      key.Table,
				MatchKey:   key.MatchKey,
			})
		}
	}

	sort.Slice(shadowed, func(i, j int) bool { return shadowed[i].RuleID < shadowed[j].RuleID })
	return entries, shadowed
}
