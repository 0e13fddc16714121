package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tagmesh/tagmesh/pkg/compiler"
	"github.com/tagmesh/tagmesh/pkg/diff"
	"github.com/tagmesh/tagmesh/pkg/events"
	"github.com/tagmesh/tagmesh/pkg/log"
	"github.com/tagmesh/tagmesh/pkg/metrics"
	"github.com/tagmesh/tagmesh/pkg/p4switch"
	"github.com/tagmesh/tagmesh/pkg/storage"
	"github.com/tagmesh/tagmesh/pkg/types"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// DeviceFactory builds the control-channel handle for one switch. The
// production factory returns *p4switch.Conn; tests substitute fakes.
type DeviceFactory func(sw *types.Switch) p4switch.Device

// Config configures the reconciliation engine
type Config struct {
	// PollInterval is the time between reconciliation cycles
	PollInterval time.Duration

	// OpTimeout bounds each individual entry write and counter read.
	// Zero means the cycle context alone bounds them.
	OpTimeout time.Duration

	// ConnectTimeout bounds each connection attempt (dial, arbitration,
	// pipeline install). A switch that accepts the stream but never
	// answers arbitration must cost one switch's attempt, not the cycle.
	// Zero selects the default.
	ConnectTimeout time.Duration

	// MaxConcurrentSwitches caps switch fan-out per cycle. Zero means
	// every switch reconciles in parallel.
	MaxConcurrentSwitches int

	// NewDevice builds per-switch connections
	NewDevice DeviceFactory

	// Broker receives connectivity and cycle events when non-nil
	Broker *events.Broker

	// OnCycle, when non-nil, observes each finished cycle report
	OnCycle func(*types.CycleReport)
}

// deviceEntry pins the inventory identity a device was built from, so an
// edited endpoint or device id forces a rebuild.
type deviceEntry struct {
	dev      p4switch.Device
	endpoint string
	deviceID uint64
}

// Engine drives the reconciliation loop: snapshot desired state, compile it
// per switch, diff against the applied-state cache and push the difference.
// Each switch is handled independently so one failure never stalls the rest.
type Engine struct {
	store     storage.Store
	cfg       Config
	applier   *p4switch.Applier
	collector *p4switch.Collector
	logger    zerolog.Logger

	mu      sync.Mutex
	devices map[string]*deviceEntry
	applied map[string]map[types.EntryKey]types.CanonicalEntry
	cycle   uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a reconciliation engine
func New(store storage.Store, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.NewDevice == nil {
		cfg.NewDevice = func(sw *types.Switch) p4switch.Device {
			return p4switch.NewConn(p4switch.Config{Switch: sw, Profile: p4switch.DefaultProfile()})
		}
	}
	return &Engine{
		store:     store,
		cfg:       cfg,
		applier:   &p4switch.Applier{OpTimeout: cfg.OpTimeout},
		collector: &p4switch.Collector{OpTimeout: cfg.OpTimeout},
		logger:    log.WithComponent("reconciler"),
		devices:   make(map[string]*deviceEntry),
		applied:   make(map[string]map[types.EntryKey]types.CanonicalEntry),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes reconciliation cycles until the context is canceled or Stop is
// called. The first cycle runs immediately; later ones follow the poll
// interval. Cycles never overlap.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	e.logger.Info().Dur("poll_interval", e.cfg.PollInterval).Msg("reconciler started")
	metrics.RegisterComponent("reconciler", true, "")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopCh:
			e.shutdown()
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// Stop requests a shutdown and waits for the loop to exit
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	<-e.doneCh
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, entry := range e.devices {
		entry.dev.Disconnect()
		delete(e.devices, name)
	}
	metrics.UpdateComponent("reconciler", false, "stopped")
	e.logger.Info().Msg("reconciler stopped")
}

// RunCycle performs one full reconciliation pass and returns its report
func (e *Engine) RunCycle(ctx context.Context) *types.CycleReport {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	timer := metrics.NewTimer()
	metrics.CyclesTotal.Inc()
	logger := log.WithCycle(cycle)

	report := &types.CycleReport{
		Cycle:    cycle,
		Started:  time.Now(),
		Switches: make(map[string]*types.SwitchReport),
	}

	state, err := e.store.Snapshot()
	if err != nil {
		// Never reconcile against a partial view: skip the whole tick
		// and leave every switch exactly as it is.
		report.Skipped = err.Error()
		report.Duration = timer.Duration()
		metrics.CyclesSkipped.Inc()
		logger.Warn().Err(err).Msg("skipping cycle, desired state unavailable")
		e.publish(events.New(events.EventCycleSkipped, "cycle skipped: "+err.Error(), map[string]string{
			"cycle": strconv.FormatUint(cycle, 10),
		}))
		e.finishCycle(report)
		return report
	}

	e.pruneRemoved(state.Switches)

	tagsBySwitch := make(map[string][]*types.TagRule)
	for _, r := range state.TagRules {
		tagsBySwitch[r.SwitchName] = append(tagsBySwitch[r.SwitchName], r)
	}
	filtersBySwitch := make(map[string][]*types.FilterRule)
	for _, r := range state.FilterRules {
		filtersBySwitch[r.SwitchName] = append(filtersBySwitch[r.SwitchName], r)
	}

	var sem chan struct{}
	if e.cfg.MaxConcurrentSwitches > 0 {
		sem = make(chan struct{}, e.cfg.MaxConcurrentSwitches)
	}

	var (
		wg sync.WaitGroup
		rm sync.Mutex
	)
	for _, sw := range state.Switches {
		wg.Add(1)
		go func(sw *types.Switch) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			sr := e.reconcileSwitch(ctx, cycle, sw, tagsBySwitch[sw.Name], filtersBySwitch[sw.Name])
			rm.Lock()
			report.Switches[sw.Name] = sr
			rm.Unlock()
		}(sw)
	}
	wg.Wait()

	report.Duration = timer.Duration()
	timer.ObserveDuration(metrics.CycleDuration)

	converged := 0
	for _, sr := range report.Switches {
		if sr.Converged() {
			converged++
		}
	}
	logger.Info().
		Int("switches", len(report.Switches)).
		Int("converged", converged).
		Dur("duration", report.Duration).
		Msg("cycle completed")
	e.publish(events.New(events.EventCycleCompleted,
		fmt.Sprintf("cycle %d: %d/%d switches converged", cycle, converged, len(report.Switches)),
		map[string]string{"cycle": strconv.FormatUint(cycle, 10)}))

	e.finishCycle(report)
	return report
}

func (e *Engine) finishCycle(report *types.CycleReport) {
	if e.cfg.OnCycle != nil {
		e.cfg.OnCycle(report)
	}
}

// pruneRemoved tears down devices for switches no longer in the inventory
func (e *Engine) pruneRemoved(current []*types.Switch) {
	known := make(map[string]bool, len(current))
	for _, sw := range current {
		known[sw.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, entry := range e.devices {
		if known[name] {
			continue
		}
		entry.dev.Disconnect()
		delete(e.devices, name)
		delete(e.applied, name)
		metrics.SwitchUp.DeleteLabelValues(name)
		metrics.EntriesDesired.DeleteLabelValues(name)
		metrics.RulesShadowed.DeleteLabelValues(name)
		e.logger.Info().Str("switch", name).Msg("switch removed from inventory")
		e.publish(events.New(events.EventSwitchRemoved, "switch "+name+" removed", map[string]string{
			"switch": name,
		}))
	}
}

// deviceFor returns the device for a switch, rebuilding it when the
// inventory's endpoint or device id changed since it was created.
func (e *Engine) deviceFor(sw *types.Switch) p4switch.Device {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.devices[sw.Name]
	if ok && entry.endpoint == sw.Endpoint && entry.deviceID == sw.DeviceID {
		return entry.dev
	}
	if ok {
		entry.dev.Disconnect()
		delete(e.applied, sw.Name)
		e.logger.Info().Str("switch", sw.Name).Msg("switch identity changed, rebuilding connection")
	}

	dev := e.cfg.NewDevice(sw)
	e.devices[sw.Name] = &deviceEntry{dev: dev, endpoint: sw.Endpoint, deviceID: sw.DeviceID}
	return dev
}

func (e *Engine) appliedFor(name string) map[types.EntryKey]types.CanonicalEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	cache, ok := e.applied[name]
	if !ok {
		cache = make(map[types.EntryKey]types.CanonicalEntry)
		e.applied[name] = cache
	}
	return cache
}

func (e *Engine) resetApplied(name string) map[types.EntryKey]types.CanonicalEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	cache := make(map[types.EntryKey]types.CanonicalEntry)
	e.applied[name] = cache
	return cache
}

// reconcileSwitch brings one switch to the desired state. Failures are
// isolated: the report carries them, the cycle carries on.
func (e *Engine) reconcileSwitch(ctx context.Context, cycle uint64, sw *types.Switch, tagRules []*types.TagRule, filterRules []*types.FilterRule) *types.SwitchReport {
	logger := log.WithSwitch(sw.Name).With().Uint64("cycle", cycle).Logger()

	desired, shadowed := compiler.CompileSwitch(sw.Name, tagRules, filterRules)
	metrics.EntriesDesired.WithLabelValues(sw.Name).Set(float64(len(desired)))
	metrics.RulesShadowed.WithLabelValues(sw.Name).Set(float64(len(shadowed)))
	for _, s := range shadowed {
		logger.Warn().
			Int64("rule_id", s.RuleID).
			Int64("winner_id", s.WinnerID).
			Str("match", s.MatchKey).
			Msg("rule shadowed by conflicting rule")
		e.publish(events.New(events.EventRuleShadowed,
			fmt.Sprintf("rule %d shadowed by rule %d on %s", s.RuleID, s.WinnerID, sw.Name),
			map[string]string{"switch": sw.Name, "match": s.MatchKey}))
	}

	report := &types.SwitchReport{SwitchName: sw.Name, Shadowed: shadowed}

	if err := ctx.Err(); err != nil {
		report.Err = err
		return report
	}

	dev := e.deviceFor(sw)
	wasReady := dev.State() == types.ConnStateReady

	connectCtx, connectCancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	err := dev.Connect(connectCtx)
	connectCancel()
	if err != nil {
		report.ConnState = dev.State()
		report.Err = err
		metrics.SwitchUp.WithLabelValues(sw.Name).Set(0)
		if report.ConnState == types.ConnStateFailed && !errors.Is(err, p4switch.ErrBackoff) {
			metrics.ConnectFailures.WithLabelValues(sw.Name).Inc()
			logger.Warn().Err(err).Str("endpoint", sw.Endpoint).Msg("switch connect failed")
			e.publish(events.New(events.EventSwitchConnectError,
				"switch "+sw.Name+" connect failed: "+err.Error(),
				map[string]string{"switch": sw.Name, "endpoint": sw.Endpoint}))
		}
		return report
	}
	metrics.SwitchUp.WithLabelValues(sw.Name).Set(1)
	if !wasReady {
		e.publish(events.New(events.EventSwitchConnected, "switch "+sw.Name+" connected", map[string]string{
			"switch": sw.Name,
		}))
	}

	// A fresh session means the switch may have rebooted: assume nothing
	// about installed entries and rebuild from an empty baseline. Spurious
	// re-inserts are absorbed as convergence by the applier.
	var applied map[types.EntryKey]types.CanonicalEntry
	if wasReady {
		applied = e.appliedFor(sw.Name)
	} else {
		applied = e.resetApplied(sw.Name)
	}

	plan := diff.Compute(desired, applied)
	report.Unchanged = plan.Unchanged

	failures, err := e.applier.Apply(ctx, dev, applied, plan)
	report.Failed = failures
	for _, f := range failures {
		metrics.EntryFailures.WithLabelValues(sw.Name, string(f.Op)).Inc()
		e.publish(events.New(events.EventEntryFailed,
			fmt.Sprintf("entry %s %s failed: %s", f.Op, f.Key, f.Reason),
			map[string]string{"switch": sw.Name, "op": string(f.Op)}))
	}
	if err == nil {
		report.Added, report.Removed, report.Modified = successCounts(plan, failures)
		metrics.EntriesApplied.WithLabelValues(sw.Name, string(types.OpInsert)).Add(float64(report.Added))
		metrics.EntriesApplied.WithLabelValues(sw.Name, string(types.OpDelete)).Add(float64(report.Removed))
		metrics.EntriesApplied.WithLabelValues(sw.Name, string(types.OpModify)).Add(float64(report.Modified))
	}

	if err != nil {
		report.Err = err
		if p4switch.IsConnectionError(err) {
			// Channel is gone; drop the session so the next cycle
			// reconnects and rebuilds from an empty baseline.
			dev.Disconnect()
			metrics.SwitchUp.WithLabelValues(sw.Name).Set(0)
			logger.Warn().Err(err).Msg("control channel lost during apply")
			e.publish(events.New(events.EventSwitchDisconnected,
				"switch "+sw.Name+" control channel lost",
				map[string]string{"switch": sw.Name}))
		} else {
			logger.Error().Err(err).Msg("apply failed")
		}
		report.ConnState = dev.State()
		return report
	}
	report.ConnState = dev.State()

	// A clean apply must leave nothing to do. A non-empty residual plan
	// means the cache no longer reflects the switch; invalidate it so the
	// next cycle rebuilds rather than compounding the drift.
	if len(failures) == 0 {
		if residual := diff.Compute(desired, applied); !residual.Empty() {
			logger.Error().Int("pending_ops", residual.Ops()).Msg("applied state diverged after clean apply, invalidating cache")
			e.resetApplied(sw.Name)
			report.Err = fmt.Errorf("applied state diverged: %d operations still pending", residual.Ops())
			return report
		}
	}

	if report.Converged() {
		samples, err := e.collector.Collect(ctx, dev, applied)
		switch {
		case err != nil && p4switch.IsConnectionError(err):
			// The channel itself is gone, not just this read. Counter
			// reads are the only traffic on a quiescent switch, so
			// this is also how a silent restart gets noticed: drop the
			// session and let the next cycle rebuild from empty.
			dev.Disconnect()
			metrics.SwitchUp.WithLabelValues(sw.Name).Set(0)
			report.ConnState = dev.State()
			logger.Warn().Err(err).Msg("control channel lost during counter collection")
			e.publish(events.New(events.EventSwitchDisconnected,
				"switch "+sw.Name+" control channel lost",
				map[string]string{"switch": sw.Name}))
		case err != nil:
			// Entry-level read failures are observability only; stale
			// gauges beat a failed cycle.
			logger.Warn().Err(err).Msg("counter collection failed")
		default:
			report.Counters = samples
			for key, s := range samples {
				metrics.EntryPackets.WithLabelValues(sw.Name, string(key.Table), key.MatchKey).Set(float64(s.Packets))
				metrics.EntryBytes.WithLabelValues(sw.Name, string(key.Table), key.MatchKey).Set(float64(s.Bytes))
			}
		}
	}

	logger.Debug().
		Int("added", report.Added).
		Int("removed", report.Removed).
		Int("modified", report.Modified).
		Int("unchanged", report.Unchanged).
		Int("failed", len(report.Failed)).
		Msg("switch reconciled")
	return report
}

// successCounts splits the plan's operation counts into acknowledged writes,
// subtracting per-op failures.
func successCounts(plan diff.Plan, failures []types.EntryFailure) (added, removed, modified int) {
	failedByOp := make(map[types.EntryOp]int)
	for _, f := range failures {
		failedByOp[f.Op]++
	}
	added = len(plan.Add) - failedByOp[types.OpInsert]
	removed = len(plan.Delete) - failedByOp[types.OpDelete]
	modified = len(plan.Modify) - failedByOp[types.OpModify]
	return added, removed, modified
}

func (e *Engine) publish(ev *events.Event) {
	if e.cfg.Broker != nil {
		e.cfg.Broker.Publish(ev)
	}
}
