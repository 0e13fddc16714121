package p4switch

import (
	"context"
	"time"

	"github.com/tagmesh/tagmesh/pkg/diff"
	"github.com/tagmesh/tagmesh/pkg/log"
	"github.com/tagmesh/tagmesh/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Applier issues a diff plan against one switch. Deletions go first, then
// modifications, then additions, so a modified entry's new match can never
// transiently collide with a stale entry still pending deletion.
type Applier struct {
	// OpTimeout bounds each individual entry operation. Zero disables the
	// per-op deadline.
	OpTimeout time.Duration
}

// Apply executes the plan over dev, folding each successful operation into
// the applied cache immediately. Entry-level failures are collected and do
// not stop the remaining operations; connection-level failures and observed
// cancellation stop at the next operation boundary and are returned as err.
// Either way the cache reflects exactly the operations that succeeded.
func (a *Applier) Apply(ctx context.Context, dev Device, applied map[types.EntryKey]types.CanonicalEntry, plan diff.Plan) ([]types.EntryFailure, error) {
	var failed []types.EntryFailure

	run := func(op types.EntryOp, entries []types.CanonicalEntry) error {
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.writeOne(ctx, dev, op, e); err != nil {
				if IsConnectionError(err) {
					return err
				}
				failed = append(failed, types.EntryFailure{Key: e.Key(), Op: op, Reason: err.Error()})
				lg := log.WithSwitch(dev.Name())
				lg.Warn().
					Str("op", string(op)).
					Stringer("entry", e.Key()).
					Str("reason", err.Error()).
					Msg("entry operation failed")
				continue
			}
			switch op {
			case types.OpDelete:
				delete(applied, e.Key())
			default:
				applied[e.Key()] = e
			}
		}
		return nil
	}

	if err := run(types.OpDelete, plan.Delete); err != nil {
		return failed, err
	}
	if err := run(types.OpModify, plan.Modify); err != nil {
		return failed, err
	}
	if err := run(types.OpInsert, plan.Add); err != nil {
		return failed, err
	}
	return failed, nil
}

func (a *Applier) writeOne(ctx context.Context, dev Device, op types.EntryOp, e types.CanonicalEntry) error {
	if a.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.OpTimeout)
		defer cancel()
	}
	err := dev.WriteEntry(ctx, op, e)
	if err == nil {
		return nil
	}
	// The switch already agreeing with us is convergence, not failure.
	// Inserts hit ALREADY_EXISTS after a reconnect that did not actually
	// lose device state; deletes hit NOT_FOUND when the entry is gone.
	code := status.Code(err)
	if op == types.OpInsert && code == codes.AlreadyExists {
		return nil
	}
	if op == types.OpDelete && code == codes.NotFound {
		return nil
	}
	return err
}
