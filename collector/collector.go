// Package collector measures link-state routing behaviour while a satellite
// constellation emulation runs: convergence after ground-station handovers,
// packet loss and service interruption windows, SPF computation timings, and
// LSP flooding delays.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"orrery/collector/clock"
	"orrery/collector/internal/diag"
	"orrery/collector/internal/gateway"
	"orrery/collector/internal/handover"
	"orrery/collector/internal/poll"
	"orrery/collector/internal/runtimecfg"
	"orrery/collector/internal/store"
	telemevents "orrery/collector/internal/telemetry/events"
	metrics "orrery/collector/internal/telemetry/metrics"
	"orrery/collector/models"
	"orrery/collector/telemetry/health"
	"orrery/collector/telemetry/logging"
)

// StatusReport is the operator-facing view of a running collection.
type StatusReport struct {
	Running             bool                 `json:"running"`
	RunID               string               `json:"run_id"`
	ControlPlaneOK      bool                 `json:"control_plane_ok"`
	SPFEnabled          bool                 `json:"spf_enabled"`
	LSDBEnabled         bool                 `json:"lsdb_enabled"`
	CollectionDurationS float64              `json:"collection_duration_s"`
	PollCycles          int64                `json:"poll_cycles"`
	OutstandingTasks    int                  `json:"outstanding_tasks"`
	Disconnects         int64                `json:"disconnects"`
	Counts              store.Counts         `json:"counts"`
	Bus                 telemevents.BusStats `json:"bus"`
}

// Collector is the lifecycle facade over all measurement subsystems.
type Collector struct {
	cfg    Config
	inv    models.Inventory
	runner gateway.Runner
	peers  handover.PeerLookup
	wall   clock.Clock
	log    *slog.Logger

	provider   metrics.Provider
	gw         *gateway.Gateway
	bus        telemevents.Bus
	healthEval *health.Evaluator

	mu         sync.Mutex
	running    atomic.Bool
	runID      string
	startWall  time.Time
	stopWall   time.Time
	sim        clock.SimTimeFunc
	capability models.CapabilityReport
	store      *store.Store
	poller     *poll.Poller
	tasks      *handover.Runner
	taskCtx    context.Context
	taskCancel context.CancelFunc
	busSub     telemevents.Subscription
	busWG      sync.WaitGroup

	disconnects atomic.Int64
}

// New wires a Collector. The runner is the node command channel; peers
// resolves reachability probe targets (nil disables reachability probing).
func New(cfg Config, inv models.Inventory, runner gateway.Runner, peers handover.PeerLookup, log *slog.Logger) (*Collector, error) {
	if runner == nil {
		return nil, errors.New("collector: runner required")
	}
	cfg.applyDefaults()
	inv.Normalize()
	if log == nil {
		log = slog.Default()
	}

	c := &Collector{
		cfg:    cfg,
		inv:    inv,
		runner: runner,
		peers:  peers,
		wall:   clock.Real(),
		log:    logging.Component(log, "collector"),
		sim:    func() float64 { return 0 },
	}
	c.provider = selectMetricsProvider(cfg)
	c.gw = gateway.New(runner, cfg.CommandTimeout, log, c.provider)
	c.bus = telemevents.NewBus(c.provider)
	c.store = store.New(cfg.StoreCap, c.provider)
	c.healthEval = health.NewEvaluator(2*time.Second, c.healthProbes()...)
	return c, nil
}

// selectMetricsProvider maps the config backend name onto a provider.
func selectMetricsProvider(cfg Config) metrics.Provider {
	if !cfg.MetricsEnabled {
		return metrics.NewNoopProvider()
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// SetWallClock overrides the wall clock. Only meaningful before Start; used
// by tests.
func (c *Collector) SetWallClock(w clock.Clock) {
	if w != nil {
		c.wall = w
	}
}

// Bus returns the notification bus. The emulator publishes topology events
// here; external observers may subscribe for telemetry. An emulator should
// feed topology notifications either through the bus or through the On*
// callbacks, not both, or events measure twice.
func (c *Collector) Bus() telemevents.Bus { return c.bus }

// MetricsHandler exposes the Prometheus handler when that backend is
// active, else nil.
func (c *Collector) MetricsHandler() http.Handler {
	if hp, ok := c.provider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// Capability returns the diagnostic report from the last Start.
func (c *Collector) Capability() models.CapabilityReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capability
}

// Health evaluates subsystem health (cached briefly).
func (c *Collector) Health(ctx context.Context) health.Snapshot {
	return c.healthEval.Evaluate(ctx)
}

func (c *Collector) healthProbes() []health.Probe {
	controlPlane := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if !c.running.Load() {
			return health.Unknown("control_plane", "collector not running")
		}
		if c.Capability().ControlPlaneOK {
			return health.Healthy("control_plane")
		}
		return health.Unhealthy("control_plane", "daemons unreachable, running degraded")
	})
	poller := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if !c.running.Load() {
			return health.Unknown("poller", "collector not running")
		}
		c.mu.Lock()
		p := c.poller
		c.mu.Unlock()
		if p == nil {
			return health.Degraded("poller", "disabled (control plane unavailable)")
		}
		return health.Healthy("poller")
	})
	storeProbe := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		c.mu.Lock()
		st := c.store
		c.mu.Unlock()
		if st == nil {
			return health.Unknown("store", "not initialised")
		}
		if st.Counts().Dropped > 0 {
			return health.Degraded("store", "records dropped at watermark")
		}
		return health.Healthy("store")
	})
	provider := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if err := c.provider.Health(ctx); err != nil {
			return health.Degraded("metrics", err.Error())
		}
		return health.Healthy("metrics")
	})
	return []health.Probe{controlPlane, poller, storeProbe, provider}
}

// Start runs the capability diagnostic and launches collection. Idempotent:
// a second Start while running is a no-op. Collections start empty and the
// LSP baseline is cleared, so a restart begins a fresh run.
func (c *Collector) Start(sim clock.SimTimeFunc) error {
	if c.running.Load() {
		c.log.Info("collector already running")
		return nil
	}
	if len(c.inv.SatIDs) == 0 && len(c.inv.GSIDs) == 0 {
		return errors.New("collector: no nodes in inventory")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sim != nil {
		c.sim = sim
	}
	c.runID = newRunID()
	c.startWall = c.wall.Now()
	c.stopWall = time.Time{}
	c.store = store.New(c.cfg.StoreCap, c.provider)
	c.taskCtx, c.taskCancel = context.WithCancel(context.Background())

	prober := diag.New(c.gw, c.cfg.Commands, &c.inv, c.log)
	c.capability = prober.Run(c.taskCtx)

	c.tasks = handover.NewRunner(c.gw, c.cfg.Commands, c.store, c.peers, &c.inv, c.wall, c.log, handover.Options{
		Timeout:            c.cfg.HandoverTimeout,
		ProbeInterval:      c.cfg.ProbeInterval,
		AdjPollInterval:    c.cfg.AdjPollInterval,
		GapResetWindow:     c.cfg.GapResetWindow,
		ConnectSettleDelay: c.cfg.ConnectSettleDelay,
		AdjKeyword:         c.cfg.AdjacencyKeyword,
		ControlPlaneOK:     c.capability.ControlPlaneOK,
		NeighborCmd:        c.capability.NeighborCmd,
		RouteCmd:           c.capability.RouteCmd,
		RouteMarker:        c.cfg.RouteMarker,
	})

	if c.capability.ControlPlaneOK {
		c.poller = poll.New(c.gw, c.cfg.Commands, &c.inv, c.store, c.wall, c.sim, c.log, c.provider, poll.Options{
			Interval:        c.cfg.PollInterval,
			FloodProbeDelay: c.cfg.FloodProbeDelay,
			SPFSatStride:    c.cfg.SPFSatStride,
			LSPSatStride:    c.cfg.LSPSatStride,
			SPFCommand:      c.capability.SPFCommand,
			LSDBCommand:     c.capability.LSDBCommand,
		})
		go c.poller.Run(c.taskCtx)
	} else {
		c.poller = nil
		c.log.Warn("control plane unavailable, polling disabled (handover loss/interruption still measured)")
	}

	sub, err := c.bus.Subscribe(c.cfg.EventBufferSize)
	if err == nil {
		c.busSub = sub
		c.busWG.Add(1)
		go c.consumeBus(sub)
	}

	c.running.Store(true)
	c.log.Info("collector started",
		"run_id", c.runID,
		"control_plane_ok", c.capability.ControlPlaneOK,
		"spf_cmd", c.capability.SPFCommand,
		"poll_interval", c.cfg.PollInterval,
	)
	return nil
}

// consumeBus dispatches topology notifications published on the bus.
func (c *Collector) consumeBus(sub telemevents.Subscription) {
	defer c.busWG.Done()
	for ev := range sub.C() {
		if !ev.IsTopology() {
			continue
		}
		switch ev.Type {
		case telemevents.TypeConnect:
			if ev.ToSat != nil {
				c.spawn(models.TriggerConnect, ev.GSID, nil, ev.ToSat, ev.SimTime)
			}
		case telemevents.TypeHandover:
			c.spawn(models.TriggerHandover, ev.GSID, ev.FromSat, ev.ToSat, ev.SimTime)
		case telemevents.TypeDisconnect:
			c.noteDisconnect(ev.GSID)
		}
	}
}

// OnConnect is the direct callback form of a connect notification.
func (c *Collector) OnConnect(gsID string, satID int) {
	sat := satID
	c.spawn(models.TriggerConnect, gsID, nil, &sat, c.simTime())
}

// OnHandover is the direct callback form of a handover notification.
func (c *Collector) OnHandover(gsID string, fromSat, toSat int) {
	f, t := fromSat, toSat
	c.spawn(models.TriggerHandover, gsID, &f, &t, c.simTime())
}

// OnDisconnect records that a GS lost its uplink. Disconnects currently
// emit no measurement records; they are counted for the status report.
func (c *Collector) OnDisconnect(gsID string) {
	c.noteDisconnect(gsID)
}

func (c *Collector) simTime() float64 {
	c.mu.Lock()
	sim := c.sim
	c.mu.Unlock()
	return sim()
}

func (c *Collector) noteDisconnect(gsID string) {
	if !c.running.Load() {
		return
	}
	c.disconnects.Add(1)
	c.log.Info("disconnect observed", "gs", gsID)
}

func (c *Collector) spawn(trigger models.Trigger, gsID string, fromSat, toSat *int, simTime float64) {
	if !c.running.Load() {
		return
	}
	c.mu.Lock()
	tasks, ctx := c.tasks, c.taskCtx
	c.mu.Unlock()
	if tasks == nil {
		return
	}
	c.log.Info("topology event", "trigger", string(trigger), "gs", gsID, "sim_time", simTime)
	tasks.Spawn(ctx, handover.Event{
		Trigger: trigger,
		GSID:    gsID,
		FromSat: fromSat,
		ToSat:   toSat,
		SimTime: simTime,
	})
}

// Stop drains collection: the poll loop gets PollStopGrace, outstanding
// measurement tasks drain in parallel with TaskDrainGrace each, then the
// collections freeze. Idempotent.
func (c *Collector) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	c.mu.Lock()
	cancel := c.taskCancel
	poller := c.poller
	tasks := c.tasks
	sub := c.busSub
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if poller != nil {
		poller.Stop(c.cfg.PollStopGrace)
	}
	if tasks != nil {
		tasks.Drain(c.cfg.TaskDrainGrace)
	}
	if sub != nil {
		_ = sub.Close()
	}
	c.busWG.Wait()

	c.mu.Lock()
	c.store.Freeze()
	c.stopWall = c.wall.Now()
	c.mu.Unlock()

	st := c.Status()
	c.log.Info("collector stopped",
		"poll_cycles", st.PollCycles,
		"spf_events", st.Counts.SPF,
		"lsp_measurements", st.Counts.LSP,
		"convergence_events", st.Counts.Convergence,
	)
	return nil
}

// Status reports counters; valid while running and after stop.
func (c *Collector) Status() StatusReport {
	c.mu.Lock()
	poller := c.poller
	tasks := c.tasks
	capability := c.capability
	runID := c.runID
	c.mu.Unlock()

	st := StatusReport{
		Running:             c.running.Load(),
		RunID:               runID,
		ControlPlaneOK:      capability.ControlPlaneOK,
		SPFEnabled:          capability.SPFCollectionEnabled(),
		LSDBEnabled:         capability.LSDBCommand != "",
		CollectionDurationS: c.collectionDuration(),
		Disconnects:         c.disconnects.Load(),
		Counts:              c.storeCounts(),
		Bus:                 c.bus.Stats(),
	}
	if poller != nil {
		st.PollCycles = poller.Ticks()
	}
	if tasks != nil {
		st.OutstandingTasks = tasks.Outstanding()
	}
	return st
}

func (c *Collector) storeCounts() store.Counts {
	c.mu.Lock()
	st := c.store
	c.mu.Unlock()
	return st.Counts()
}

// Summary aggregates the current collections.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	st := c.store
	c.mu.Unlock()
	return Summarize(st.Convergence(), st.PacketLoss(), st.Interruptions(), st.SPF(), st.LSP(), c.collectionDuration())
}

func (c *Collector) collectionDuration() float64 {
	c.mu.Lock()
	start, stop := c.startWall, c.stopWall
	c.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	end := stop
	if end.IsZero() {
		end = c.wall.Now()
	}
	return round1(end.Sub(start).Seconds())
}

// ApplyTuning applies hot-reloaded knobs to the running poller.
func (c *Collector) ApplyTuning(t runtimecfg.Tuning) {
	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()
	if poller == nil {
		return
	}
	if d := t.PollInterval.Std(); d > 0 {
		poller.SetInterval(d)
	}
	if d := t.FloodProbeDelay.Std(); d > 0 {
		poller.SetFloodProbeDelay(d)
	}
}
