// Package poll drives the fixed-tick SPF and LSP collection passes.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"orrery/collector/clock"
	"orrery/collector/internal/gateway"
	"orrery/collector/internal/parse"
	"orrery/collector/internal/store"
	metrics "orrery/collector/internal/telemetry/metrics"
	"orrery/collector/models"
)

// errorLogBudget caps per-node transient-error logging; later failures for
// the same node stay silent to keep a flapping node from flooding the log.
const errorLogBudget = 3

// stopPollGranularity is the wake-up latency bound for stop.
const stopPollGranularity = 100 * time.Millisecond

// Options configures a Poller.
type Options struct {
	Interval        time.Duration
	FloodProbeDelay time.Duration
	SPFSatStride    int
	LSPSatStride    int
	SPFCommand      string
	LSDBCommand     string
}

// Poller owns the SPF cursors and the LSP baseline; both are only mutated on
// the poll goroutine.
type Poller struct {
	gw    *gateway.Gateway
	cmds  gateway.CommandSet
	inv   *models.Inventory
	store *store.Store
	wall  clock.Clock
	sim   clock.SimTimeFunc
	log   *slog.Logger

	interval   atomic.Int64 // nanoseconds
	floodDelay atomic.Int64 // nanoseconds
	spfCmd     string
	lsdbCmd    string

	spfNodes []string
	lspNodes []string
	refNode  string

	cursorMu   sync.RWMutex
	spfCursors map[string]int

	baseline map[string]string

	errCounts map[string]int
	ticks     atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mTicks    metrics.Counter
	mExecErrs metrics.Counter
	tickTimer func() metrics.Timer
}

// New constructs a Poller. The node subsets are fixed at construction from
// the inventory: SPF polls every ground station plus a 1-in-stride satellite
// subset; LSP probing uses a denser satellite subset plus all ground
// stations, with the first satellite as the reference node.
func New(gw *gateway.Gateway, cmds gateway.CommandSet, inv *models.Inventory, st *store.Store, wall clock.Clock, sim clock.SimTimeFunc, log *slog.Logger, provider metrics.Provider, opts Options) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.FloodProbeDelay <= 0 {
		opts.FloodProbeDelay = 500 * time.Millisecond
	}
	if opts.SPFSatStride <= 0 {
		opts.SPFSatStride = 8
	}
	if opts.LSPSatStride <= 0 {
		opts.LSPSatStride = 4
	}

	p := &Poller{
		gw:         gw,
		cmds:       cmds,
		inv:        inv,
		store:      st,
		wall:       wall,
		sim:        sim,
		log:        log.With("component", "poller"),
		spfCmd:     opts.SPFCommand,
		lsdbCmd:    opts.LSDBCommand,
		spfCursors: make(map[string]int),
		baseline:   make(map[string]string),
		errCounts:  make(map[string]int),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		mTicks:     provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "poll", Name: "ticks_total", Help: "Completed poll cycles"}}),
		mExecErrs:  provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "poll", Name: "exec_errors_total", Help: "Per-tick command failures", Labels: []string{"pass"}}}),
		tickTimer:  provider.NewTimer(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "poll", Name: "tick_seconds", Help: "Poll tick duration"}}),
	}
	p.interval.Store(int64(opts.Interval))
	p.floodDelay.Store(int64(opts.FloodProbeDelay))

	p.spfNodes = append(p.spfNodes, inv.GSIDs...)
	for _, sid := range inv.SatSubset(opts.SPFSatStride) {
		p.spfNodes = append(p.spfNodes, models.SatName(sid))
	}
	if ref, ok := inv.ReferenceSat(); ok {
		p.refNode = models.SatName(ref)
		for _, sid := range inv.SatSubset(opts.LSPSatStride) {
			if name := models.SatName(sid); name != p.refNode {
				p.lspNodes = append(p.lspNodes, name)
			}
		}
	}
	p.lspNodes = append(p.lspNodes, inv.GSIDs...)
	return p
}

// SetInterval adjusts the tick interval; takes effect after the current
// tick's sleep completes.
func (p *Poller) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

// SetFloodProbeDelay adjusts the flooding probe delay for subsequent ticks.
func (p *Poller) SetFloodProbeDelay(d time.Duration) {
	if d > 0 {
		p.floodDelay.Store(int64(d))
	}
}

// Ticks reports completed poll cycles.
func (p *Poller) Ticks() int64 { return p.ticks.Load() }

// Cursors returns a copy of the per-node SPF cursor state.
func (p *Poller) Cursors() map[string]int {
	p.cursorMu.RLock()
	defer p.cursorMu.RUnlock()
	out := make(map[string]int, len(p.spfCursors))
	for k, v := range p.spfCursors {
		out[k] = v
	}
	return out
}

// Run loops until Stop. Ticks never overlap; a tick that overruns the
// interval is followed immediately by the next one.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		start := p.wall.Now()
		p.Tick(ctx)
		elapsed := p.wall.Now().Sub(start)
		if remaining := time.Duration(p.interval.Load()) - elapsed; remaining > 0 {
			if !p.sleep(ctx, remaining) {
				return
			}
		}
	}
}

// Stop signals the loop and waits for the in-flight tick to finish.
func (p *Poller) Stop(grace time.Duration) {
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.done:
	case <-time.After(grace):
		p.log.Warn("poller did not drain within grace period")
	}
}

// sleep waits in small increments so stop latency stays bounded. Returns
// false when stopped.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	deadline := p.wall.Now().Add(d)
	for p.wall.Now().Before(deadline) {
		select {
		case <-p.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
		}
		step := stopPollGranularity
		if remaining := deadline.Sub(p.wall.Now()); remaining < step {
			step = remaining
		}
		p.wall.Sleep(step)
	}
	return true
}

// Tick runs one poll cycle: the SPF pass strictly before the LSP pass.
func (p *Poller) Tick(ctx context.Context) {
	t := p.tickTimer()
	p.collectSPF(ctx)
	p.collectLSP(ctx)
	p.ticks.Add(1)
	p.mTicks.Inc(1)
	t.ObserveDuration()
}

func (p *Poller) collectSPF(ctx context.Context) {
	if p.spfCmd == "" {
		return
	}
	simTime := p.sim()
	for _, node := range p.spfNodes {
		out, ok := p.gw.Control(ctx, p.cmds, node, p.spfCmd)
		if !ok || out == "" {
			p.execFailure("spf", node)
			continue
		}
		entries := parse.SPFLog(out)
		p.cursorMu.RLock()
		prev := p.spfCursors[node]
		p.cursorMu.RUnlock()
		if len(entries) <= prev {
			// The log is appended monotonically by the daemon; fewer
			// entries than the cursor means a truncated or failed parse,
			// so the cursor stays put and the next poll catches up.
			continue
		}
		fresh := make([]models.SPFEvent, 0, len(entries)-prev)
		for _, e := range entries[prev:] {
			fresh = append(fresh, models.SPFEvent{
				SimTime:    simTime,
				Node:       node,
				DurationMs: e.DurationMs,
				Trigger:    e.Trigger,
				When:       e.When,
			})
		}
		p.store.AppendSPF(fresh...)
		p.cursorMu.Lock()
		p.spfCursors[node] = len(entries)
		p.cursorMu.Unlock()
	}
}

func (p *Poller) collectLSP(ctx context.Context) {
	if p.lsdbCmd == "" || p.refNode == "" {
		return
	}
	simTime := p.sim()

	out, ok := p.gw.Control(ctx, p.cmds, p.refNode, p.lsdbCmd)
	if !ok || out == "" {
		p.execFailure("lsp", p.refNode)
		return
	}
	current := parse.LSDB(out)
	if len(current) == 0 {
		return
	}

	if len(p.baseline) == 0 {
		p.baseline = current
		p.log.Info("lsp baseline recorded", "lsps", len(current))
		return
	}

	changed := make(map[string]string)
	for id, seq := range current {
		if p.baseline[id] != seq {
			changed[id] = seq
		}
	}
	if len(changed) == 0 {
		return
	}

	// One shared probe window for every LSP that changed this tick: each
	// probe node is queried once and all changed sequences are checked
	// against that single snapshot.
	p.wall.Sleep(time.Duration(p.floodDelay.Load()))
	t0 := p.wall.Now()

	type nodeSnapshot struct {
		lsps    map[string]string
		elapsed float64
		ok      bool
	}
	snapshots := make(map[string]nodeSnapshot, len(p.lspNodes))
	for _, node := range p.lspNodes {
		out, ok := p.gw.Control(ctx, p.cmds, node, p.lsdbCmd)
		if !ok {
			p.execFailure("lsp", node)
			snapshots[node] = nodeSnapshot{}
			continue
		}
		snapshots[node] = nodeSnapshot{
			lsps:    parse.LSDB(out),
			elapsed: p.wall.Now().Sub(t0).Seconds(),
			ok:      true,
		}
	}

	for id, seq := range changed {
		propagation := make(map[string]float64, len(snapshots))
		for node, snap := range snapshots {
			if snap.ok && snap.lsps[id] == seq {
				propagation[node] = snap.elapsed
			} else {
				propagation[node] = models.NotPropagated
			}
		}
		p.store.AppendLSP(models.LSPFloodingMeasurement{
			SimTime:     simTime,
			LSPID:       id,
			Sequence:    seq,
			OriginNode:  p.refNode,
			Propagation: propagation,
		})
		// Baseline advances only after the measurement is stored, so a
		// concurrent reader never sees a consumed change without its
		// measurement.
		p.baseline[id] = seq
	}
}

func (p *Poller) execFailure(pass, node string) {
	p.mExecErrs.Inc(1, pass)
	p.errCounts[node]++
	if p.errCounts[node] <= errorLogBudget {
		p.log.Warn("node command failed, counted as empty", "pass", pass, "node", node, "failures", p.errCounts[node])
	}
}
