package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagmesh/tagmesh/pkg/types"
)

func TestCompileTag(t *testing.T) {
	tests := []struct {
		name         string
		rule         *types.TagRule
		wantKey      string
		wantPriority int32
	}{
		{
			name: "single lpm field",
			rule: &types.TagRule{ID: 1, SwitchName: "s21", TagValue: 10,
				Match: types.MatchSpec{"srcAddr": {Value: "192.168.11.0", PrefixLen: 24}}},
			wantKey:      "srcAddr=192.168.11.0/24",
			wantPriority: 24,
		},
		{
			name: "exact match defaults to field width",
			rule: &types.TagRule{ID: 2, SwitchName: "s21", TagValue: 11,
				Match: types.MatchSpec{"srcAddr": {Value: "192.168.11.1"}}},
			wantKey:      "srcAddr=192.168.11.1/32",
			wantPriority: 32,
		},
		{
			name: "fields sorted in key",
			rule: &types.TagRule{ID: 3, SwitchName: "s21", TagValue: 12,
				Match: types.MatchSpec{
					"srcAddr":  {Value: "192.168.13.0", PrefixLen: 24},
					"protocol": {Value: "17"},
				}},
			wantKey:      "protocol=17/8,srcAddr=192.168.13.0/24",
			wantPriority: 32,
		},
		{
			name: "qualified p4 field names use suffix width",
			rule: &types.TagRule{ID: 4, SwitchName: "s22", TagValue: 10,
				Match: types.MatchSpec{"hdr.ipv4.diffserv": {Value: "10"}}},
			wantKey:      "hdr.ipv4.diffserv=10/8",
			wantPriority: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := CompileTag(tt.rule)
			assert.Equal(t, types.TableTag, e.Table)
			assert.Equal(t, tt.rule.SwitchName, e.SwitchName)
			assert.Equal(t, tt.wantKey, e.MatchKey)
			assert.Equal(t, tt.wantPriority, e.Priority)
			assert.Equal(t, types.ActionParams{SetTag: tt.rule.TagValue}, e.Action)
		})
	}
}

func TestCompileTagOrderIndependentKey(t *testing.T) {
	// Same logical match spec; map iteration order must never leak into
	// the key.
	a := CompileTag(&types.TagRule{ID: 1, SwitchName: "s21", TagValue: 10,
		Match: types.MatchSpec{
			"dstAddr": {Value: "10.0.0.0", PrefixLen: 8},
			"srcAddr": {Value: "192.168.11.0", PrefixLen: 24},
		}})
	b := CompileTag(&types.TagRule{ID: 2, SwitchName: "s21", TagValue: 10,
		Match: types.MatchSpec{
			"srcAddr": {Value: "192.168.11.0", PrefixLen: 24},
			"dstAddr": {Value: "10.0.0.0", PrefixLen: 8},
		}})
	assert.Equal(t, a.MatchKey, b.MatchKey)
	assert.Equal(t, a.Priority, b.Priority)
}

func TestCompileFilter(t *testing.T) {
	e := CompileFilter(&types.FilterRule{ID: 7, SwitchName: "s11", TagValue: 12})

	assert.Equal(t, types.TableFilter, e.Table)
	assert.Equal(t, "tag=12", e.MatchKey)
	assert.Equal(t, types.ActionParams{Drop: true}, e.Action)
	assert.Equal(t, int32(0), e.Priority)
}

func TestCompileSwitchConflictDeterminism(t *testing.T) {
	match := types.MatchSpec{"srcAddr": {Value: "192.168.11.0", PrefixLen: 24}}
	r5 := &types.TagRule{ID: 5, SwitchName: "s21", Match: match, TagValue: 10}
	r9 := &types.TagRule{ID: 9, SwitchName: "s21", Match: match, TagValue: 11}

	// Both input orders must yield the same outcome: rule 9 kept, rule 5
	// reported shadowed.
	for _, rules := range [][]*types.TagRule{{r5, r9}, {r9, r5}} {
		entries, shadowed := CompileSwitch("s21", rules, nil)

		require.Len(t, entries, 1)
		for _, e := range entries {
			assert.Equal(t, types.ActionParams{SetTag: 11}, e.Action)
		}

		require.Len(t, shadowed, 1)
		assert.Equal(t, int64(5), shadowed[0].RuleID)
		assert.Equal(t, int64(9), shadowed[0].WinnerID)
		assert.Equal(t, "srcAddr=192.168.11.0/24", shadowed[0].MatchKey)
	}
}

func TestCompileSwitchFiltersByName(t *testing.T) {
	tags := []*types.TagRule{
		{ID: 1, SwitchName: "s21", TagValue: 10,
			Match: types.MatchSpec{"srcAddr": {Value: "192.168.11.0", PrefixLen: 24}}},
		{ID: 2, SwitchName: "s22", TagValue: 10,
			Match: types.MatchSpec{"srcAddr": {Value: "192.168.12.0", PrefixLen: 24}}},
	}
	filters := []*types.FilterRule{
		{ID: 1, SwitchName: "s11", TagValue: 12},
	}

	entries, shadowed := CompileSwitch("s21", tags, filters)
	assert.Empty(t, shadowed)
	require.Len(t, entries, 1)
	for k := range entries {
		assert.Equal(t, "s21", k.SwitchName)
	}
}

func TestCompileSwitchTagAndFilterKeysDisjoint(t *testing.T) {
	// A tag rule and a filter rule on the same switch live in different
	// tables and can never collide.
	tags := []*types.TagRule{
		{ID: 1, SwitchName: "s21", TagValue: 12,
			Match: types.MatchSpec{"srcAddr": {Value: "192.168.13.0", PrefixLen: 24}}},
	}
	filters := []*types.FilterRule{
		{ID: 1, SwitchName: "s21", TagValue: 12},
	}

	entries, shadowed := CompileSwitch("s21", tags, filters)
	assert.Empty(t, shadowed)
	assert.Len(t, entries, 2)
}
