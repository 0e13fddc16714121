package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagmesh/tagmesh/pkg/types"
)

func entry(sw string, table types.TableKind, key string, action types.ActionParams, prio int32) types.CanonicalEntry {
	return types.CanonicalEntry{SwitchName: sw, Table: table, MatchKey: key, Action: action, Priority: prio}
}

func toSet(entries ...types.CanonicalEntry) map[types.EntryKey]types.CanonicalEntry {
	set := make(map[types.EntryKey]types.CanonicalEntry, len(entries))
	for _, e := range entries {
		set[e.Key()] = e
	}
	return set
}

func TestComputeAdd(t *testing.T) {
	// Fresh rule against an empty applied set.
	want := entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24)

	plan := Compute(toSet(want), nil)

	require.Len(t, plan.Add, 1)
	assert.Equal(t, want, plan.Add[0])
	assert.Empty(t, plan.Delete)
	assert.Empty(t, plan.Modify)
	assert.Zero(t, plan.Unchanged)
}

func TestComputeModifyOnActionChange(t *testing.T) {
	// Tag value changed 10 -> 11 between ticks; key unchanged.
	applied := entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24)
	desired := entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 11}, 24)

	plan := Compute(toSet(desired), toSet(applied))

	require.Len(t, plan.Modify, 1)
	assert.Equal(t, desired, plan.Modify[0])
	assert.Empty(t, plan.Add)
	assert.Empty(t, plan.Delete)
}

func TestComputeDelete(t *testing.T) {
	// Filter rule tag=12 removed from storage.
	applied := entry("s11", types.TableFilter, "tag=12", types.ActionParams{Drop: true}, 0)

	plan := Compute(nil, toSet(applied))

	require.Len(t, plan.Delete, 1)
	assert.Equal(t, applied.Key(), plan.Delete[0].Key())
	assert.Empty(t, plan.Add)
	assert.Empty(t, plan.Modify)
}

func TestComputeUnchangedNotResent(t *testing.T) {
	e := entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24)

	plan := Compute(toSet(e), toSet(e))

	assert.True(t, plan.Empty())
	assert.Equal(t, 1, plan.Unchanged)
}

func TestComputePriorityChangeIsModify(t *testing.T) {
	applied := entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24)
	desired := applied
	desired.Priority = 32

	plan := Compute(toSet(desired), toSet(applied))

	require.Len(t, plan.Modify, 1)
	assert.Equal(t, int32(32), plan.Modify[0].Priority)
}

// merge folds a plan into an applied set the way a fully successful apply
// would.
func merge(applied map[types.EntryKey]types.CanonicalEntry, plan Plan) map[types.EntryKey]types.CanonicalEntry {
	out := make(map[types.EntryKey]types.CanonicalEntry, len(applied))
	for k, v := range applied {
		out[k] = v
	}
	for _, e := range plan.Delete {
		delete(out, e.Key())
	}
	for _, e := range plan.Modify {
		out[e.Key()] = e
	}
	for _, e := range plan.Add {
		out[e.Key()] = e
	}
	return out
}

func TestComputeConvergenceAndIdempotence(t *testing.T) {
	desired := toSet(
		entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24),
		entry("s21", types.TableTag, "srcAddr=192.168.12.0/24", types.ActionParams{SetTag: 11}, 24),
		entry("s21", types.TableFilter, "tag=12", types.ActionParams{Drop: true}, 0),
	)
	applied := toSet(
		// stale: must be deleted
		entry("s21", types.TableTag, "srcAddr=10.0.0.0/8", types.ActionParams{SetTag: 9}, 8),
		// drifted: must be modified
		entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 7}, 24),
	)

	plan := Compute(desired, applied)
	applied = merge(applied, plan)

	// Convergence: one application reaches the desired set exactly.
	assert.Equal(t, desired, applied)

	// Idempotence: the next diff over the merged state is empty.
	again := Compute(desired, applied)
	assert.True(t, again.Empty())
	assert.Equal(t, len(desired), again.Unchanged)
}

func TestComputeDeterministicOrder(t *testing.T) {
	desired := toSet(
		entry("s21", types.TableTag, "srcAddr=192.168.12.0/24", types.ActionParams{SetTag: 11}, 24),
		entry("s21", types.TableTag, "srcAddr=192.168.11.0/24", types.ActionParams{SetTag: 10}, 24),
		entry("s21", types.TableFilter, "tag=12", types.ActionParams{Drop: true}, 0),
	)

	plan := Compute(desired, nil)

	require.Len(t, plan.Add, 3)
	assert.Equal(t, "tag=12", plan.Add[0].MatchKey)
	assert.Equal(t, "srcAddr=192.168.11.0/24", plan.Add[1].MatchKey)
	assert.Equal(t, "srcAddr=192.168.12.0/24", plan.Add[2].MatchKey)
}
