package storage

import (
	"errors"

	"github.com/tagmesh/tagmesh/pkg/types"
)

// ErrStateUnavailable is returned when the desired-state store cannot be
// read. The engine treats it as "skip this cycle, retry next tick" and never
// reconciles against a partial snapshot.
var ErrStateUnavailable = errors.New("desired state unavailable")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for desired-state storage
type Store interface {
	// Switches
	CreateSwitch(sw *types.Switch) error
	GetSwitch(name string) (*types.Switch, error)
	ListSwitches() ([]*types.Switch, error)
	DeleteSwitch(name string) error

	// Tag rules
	CreateTagRule(rule *types.TagRule) error
	ListTagRules() ([]*types.TagRule, error)
	DeleteTagRule(id int64) error

	// Filter rules
	CreateFilterRule(rule *types.FilterRule) error
	ListFilterRules() ([]*types.FilterRule, error)
	DeleteFilterRule(id int64) error

	// Snapshot reads switches, tag rules and filter rules in one consistent
	// view. Implementations must not allow torn reads across the three
	// collections.
	Snapshot() (*types.DesiredState, error)

	// Utility
	Close() error
}
