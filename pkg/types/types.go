package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Switch represents a programmable switch in the inventory
type Switch struct {
	Name     string `json:"name"`     // Unique name, e.g. "s21"
	Endpoint string `json:"endpoint"` // gRPC address, e.g. "127.0.0.1:50054"
	DeviceID uint64 `json:"device_id"`
}

// ConnState represents the control-channel state of a switch
type ConnState string

const (
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateReady        ConnState = "ready"
	ConnStateFailed       ConnState = "failed"
)

// MatchField is one header-field match: a value plus a prefix length.
// A PrefixLen of 0 means "exact match over the field's full width" and is
// defaulted by the compiler.
type MatchField struct {
	Value     string `json:"value" yaml:"value"`
	PrefixLen int    `json:"prefix_len" yaml:"prefixLen"`
}

// MatchSpec maps header-field names to match criteria
type MatchSpec map[string]MatchField

// TagRule classifies packets matching Match with TagValue
type TagRule struct {
	ID         int64     `json:"id"`
	SwitchName string    `json:"switch_name"`
	Match      MatchSpec `json:"match"`
	TagValue   int       `json:"tag_value"`
}

// FilterRule drops packets carrying TagValue
type FilterRule struct {
	ID         int64  `json:"id"`
	SwitchName string `json:"switch_name"`
	TagValue   int    `json:"tag_value"`
}

// DesiredState is a point-in-time snapshot of the persisted configuration
type DesiredState struct {
	Switches    []*Switch
	TagRules    []*TagRule
	FilterRules []*FilterRule
}

// TableKind identifies which match-action table an entry belongs to
type TableKind string

const (
	TableTag    TableKind = "tag"
	TableFilter TableKind = "filter"
)

// ActionParams holds the action side of a canonical entry
type ActionParams struct {
	SetTag int  `json:"set_tag,omitempty"`
	Drop   bool `json:"drop,omitempty"`
}

// EntryKey uniquely identifies a table entry on a switch. Entries with equal
// keys but different action params or priority are the same entry pending
// modification, never two distinct entries.
type EntryKey struct {
	SwitchName string
	Table      TableKind
	MatchKey   string
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SwitchName, k.Table, k.MatchKey)
}

// CanonicalEntry is the normalized, comparable form of a desired table entry,
// independent of how the rule was persisted.
type CanonicalEntry struct {
	SwitchName string
	Table      TableKind
	MatchKey   string
	Action     ActionParams
	Priority   int32
}

// Key returns the identity portion of the entry
func (e CanonicalEntry) Key() EntryKey {
	return EntryKey{SwitchName: e.SwitchName, Table: e.Table, MatchKey: e.MatchKey}
}

// Same reports whether two entries are identical including action and priority
func (e CanonicalEntry) Same(o CanonicalEntry) bool {
	return e == o
}

// RenderMatchKey normalizes a match spec into the canonical key encoding:
// field names sorted, each rendered as "field=value/prefixLen", comma-joined.
// Field order in the persisted rule never affects the key.
func RenderMatchKey(spec MatchSpec, defaultWidth func(field string) int) string {
	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		m := spec[f]
		plen := m.PrefixLen
		if plen == 0 && defaultWidth != nil {
			plen = defaultWidth(f)
		}
		parts = append(parts, fmt.Sprintf("%s=%s/%d", f, m.Value, plen))
	}
	return strings.Join(parts, ",")
}

// ShadowedRule reports a compile-level conflict: two rules canonicalized to
// the same key and the lower-id rule lost.
type ShadowedRule struct {
	RuleID     int64
	WinnerID   int64
	SwitchName string
	Table      TableKind
	MatchKey   string
}

// EntryOp is the kind of write issued for one entry
type EntryOp string

const (
	OpInsert EntryOp = "insert"
	OpModify EntryOp = "modify"
	OpDelete EntryOp = "delete"
)

// EntryFailure records a single failed entry operation within a cycle
type EntryFailure struct {
	Key    EntryKey
	Op     EntryOp
	Reason string
}

// CounterSample is a point-in-time read of one entry's direct counter
type CounterSample struct {
	Packets int64
	Bytes   int64
}

// SwitchReport summarizes one switch's outcome within a reconciliation cycle
type SwitchReport struct {
	SwitchName string
	ConnState  ConnState
	Added      int
	Removed    int
	Modified   int
	Unchanged  int
	Shadowed   []ShadowedRule
	Failed     []EntryFailure
	Counters   map[EntryKey]CounterSample
	Err        error
}

// Converged reports whether the switch finished the cycle with every desired
// entry applied and nothing pending retry.
func (r *SwitchReport) Converged() bool {
	return r.Err == nil && len(r.Failed) == 0
}

// CycleReport aggregates one reconciliation tick across all switches.
// It is transient: consumed by the caller for logging/metrics, not retained.
type CycleReport struct {
	Cycle    uint64
	Started  time.Time
	Duration time.Duration
	Skipped  string // non-empty when the whole tick was skipped (e.g. snapshot failure)
	Switches map[string]*SwitchReport
}
