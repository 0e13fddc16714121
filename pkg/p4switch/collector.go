package p4switch

import (
	"context"
	"time"

	"github.com/tagmesh/tagmesh/pkg/types"
)

// Collector reads per-entry traffic counters. Strictly read-only: a collect
// failure never touches the applied cache or the next cycle's diff, it only
// costs this cycle's observability for that switch.
type Collector struct {
	OpTimeout time.Duration
}

// Collect reads the direct counter of every applied entry on dev
func (c *Collector) Collect(ctx context.Context, dev Device, applied map[types.EntryKey]types.CanonicalEntry) (map[types.EntryKey]types.CounterSample, error) {
	samples := make(map[types.EntryKey]types.CounterSample, len(applied))
	for key, entry := range applied {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample, err := c.readOne(ctx, dev, entry)
		if err != nil {
			return nil, err
		}
		samples[key] = sample
	}
	return samples, nil
}

func (c *Collector) readOne(ctx context.Context, dev Device, e types.CanonicalEntry) (types.CounterSample, error) {
	if c.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.OpTimeout)
		defer cancel()
	}
	return dev.ReadCounter(ctx, e)
}
