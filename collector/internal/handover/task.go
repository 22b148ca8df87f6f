// Package handover measures convergence, packet loss, and service
// interruption for a single topology-change event.
package handover

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orrery/collector/clock"
	"orrery/collector/internal/gateway"
	"orrery/collector/internal/parse"
	"orrery/collector/internal/store"
	"orrery/collector/models"
)

// PeerLookup resolves a reachable probe target for a ground station,
// preferring another connected GS over a satellite.
type PeerLookup interface {
	ResolveProbeTarget(fromGS string) (string, bool)
}

// PeerLookupFunc adapts a function to PeerLookup.
type PeerLookupFunc func(fromGS string) (string, bool)

func (f PeerLookupFunc) ResolveProbeTarget(fromGS string) (string, bool) { return f(fromGS) }

// Event is one topology notification handed to a measurement task.
type Event struct {
	Trigger models.Trigger
	GSID    string
	FromSat *int
	ToSat   *int
	SimTime float64
}

// Options tunes the measurement loop.
type Options struct {
	Timeout            time.Duration
	ProbeInterval      time.Duration
	AdjPollInterval    time.Duration
	GapResetWindow     time.Duration
	ConnectSettleDelay time.Duration
	AdjKeyword         string
	ControlPlaneOK     bool
	NeighborCmd        string
	RouteCmd           string
	RouteMarker        string
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 100 * time.Millisecond
	}
	if o.AdjPollInterval <= 0 {
		o.AdjPollInterval = 500 * time.Millisecond
	}
	if o.GapResetWindow <= 0 {
		o.GapResetWindow = 500 * time.Millisecond
	}
	if o.AdjKeyword == "" {
		o.AdjKeyword = "Up"
	}
}

// Runner executes measurement tasks and tracks them for stop-time draining.
type Runner struct {
	gw    *gateway.Gateway
	cmds  gateway.CommandSet
	store *store.Store
	peers PeerLookup
	inv   *models.Inventory
	wall  clock.Clock
	log   *slog.Logger
	opts  Options

	routes parse.RouteMatcher

	mu    sync.Mutex
	tasks map[string]chan struct{}
}

// NewRunner constructs a Runner.
func NewRunner(gw *gateway.Gateway, cmds gateway.CommandSet, st *store.Store, peers PeerLookup, inv *models.Inventory, wall clock.Clock, log *slog.Logger, opts Options) *Runner {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if opts.NeighborCmd == "" {
		opts.NeighborCmd = cmds.Neighbor
	}
	if opts.RouteCmd == "" {
		opts.RouteCmd = cmds.Route
	}
	return &Runner{
		gw:     gw,
		cmds:   cmds,
		store:  st,
		peers:  peers,
		inv:    inv,
		wall:   wall,
		log:    log.With("component", "handover"),
		opts:   opts,
		routes: parse.NewRouteMatcher(opts.RouteMarker),
		tasks:  make(map[string]chan struct{}),
	}
}

// Spawn launches a measurement task for the event and returns immediately.
func (r *Runner) Spawn(ctx context.Context, ev Event) {
	id := uuid.NewString()
	done := make(chan struct{})
	r.mu.Lock()
	r.tasks[id] = done
	r.mu.Unlock()
	go func() {
		defer close(done)
		defer func() {
			r.mu.Lock()
			delete(r.tasks, id)
			r.mu.Unlock()
		}()
		r.measure(ctx, id, ev)
	}()
}

// Outstanding reports the number of running tasks.
func (r *Runner) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Drain waits for every outstanding task, each bounded by grace, all in
// parallel. Tasks that overrun are abandoned (they still record on their own
// exit unless the store froze first).
func (r *Runner) Drain(grace time.Duration) {
	r.mu.Lock()
	waiting := make([]chan struct{}, 0, len(r.tasks))
	for _, done := range r.tasks {
		waiting = append(waiting, done)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, done := range waiting {
		wg.Add(1)
		go func(done chan struct{}) {
			defer wg.Done()
			select {
			case <-done:
			case <-time.After(grace):
				r.log.Warn("handover task did not drain within grace period")
			}
		}(done)
	}
	wg.Wait()
}

// probeSucceeded interprets single-packet ping output.
func probeSucceeded(output string) bool {
	return strings.Contains(output, " 0% packet loss") || strings.Contains(output, "1 received")
}

func (r *Runner) measure(ctx context.Context, id string, ev Event) {
	log := r.log.With("task", id, "gs", ev.GSID, "trigger", string(ev.Trigger))
	if r.inv != nil && !r.inv.Contains(ev.GSID) {
		log.Error("ground station not in inventory, dropping event")
		return
	}
	target, haveTarget := "", false
	if r.peers != nil {
		target, haveTarget = r.peers.ResolveProbeTarget(ev.GSID)
	}
	if !haveTarget {
		log.Warn("no probe target, measuring control plane only")
	}

	start := r.wall.Now()
	timeout := r.opts.Timeout
	timeoutS := timeout.Seconds()

	sent, received := 0, 0
	lastOk := start
	var firstOkAfterGap time.Time

	var adjUpAt, routeAt float64
	adjSeen, routeSeen := false, false

	// Connect events give the daemons a settle window before the first
	// control-plane poll; the timer keeps running from the event so the
	// settle time is part of the measured convergence.
	var nextCtrlPoll time.Time
	if ev.Trigger == models.TriggerConnect && r.opts.ConnectSettleDelay > 0 {
		nextCtrlPoll = start.Add(r.opts.ConnectSettleDelay)
	} else {
		nextCtrlPoll = start
	}

	for {
		now := r.wall.Now()
		elapsed := now.Sub(start)
		if elapsed >= timeout {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if haveTarget {
			sent++
			out, ok := r.gw.Exec(ctx, ev.GSID, r.cmds.PingCmd(target))
			now = r.wall.Now()
			elapsed = now.Sub(start)
			if ok && probeSucceeded(out) {
				received++
				lastOk = now
				// A success inside the first second is pre-outage traffic;
				// it never closes the gap caused by the topology change.
				if firstOkAfterGap.IsZero() && elapsed > time.Second {
					firstOkAfterGap = now
				}
			} else if !firstOkAfterGap.IsZero() && now.Sub(firstOkAfterGap) < r.opts.GapResetWindow {
				// The candidate recovery was a blip, not the end of the
				// outage.
				firstOkAfterGap = time.Time{}
			}
		}

		if r.opts.ControlPlaneOK && !now.Before(nextCtrlPoll) {
			nextCtrlPoll = now.Add(r.opts.AdjPollInterval)
			if !adjSeen {
				if out, ok := r.gw.Control(ctx, r.cmds, ev.GSID, r.opts.NeighborCmd); ok && parse.AdjacencyUp(out, r.opts.AdjKeyword) {
					adjUpAt = r.wall.Now().Sub(start).Seconds()
					adjSeen = true
				}
			}
			if !routeSeen {
				if out, ok := r.gw.Control(ctx, r.cmds, ev.GSID, r.opts.RouteCmd); ok && r.routes.Present(out) {
					routeAt = r.wall.Now().Sub(start).Seconds()
					routeSeen = true
				}
			}
		}

		if adjSeen && routeSeen {
			if !firstOkAfterGap.IsZero() {
				break
			}
			later := adjUpAt
			if routeAt > later {
				later = routeAt
			}
			if elapsed.Seconds() > later+2.0 {
				break
			}
		}

		r.wall.Sleep(r.opts.ProbeInterval)
	}

	endElapsed := r.wall.Now().Sub(start).Seconds()

	adjS, routeS := timeoutS, timeoutS
	if adjSeen {
		adjS = clamp(adjUpAt, timeoutS)
	}
	if routeSeen {
		routeS = clamp(routeAt, timeoutS)
	}
	convergence := adjS
	if routeS > convergence {
		convergence = routeS
	}

	conv := models.ConvergenceRecord{
		SimTime:      ev.SimTime,
		Trigger:      ev.Trigger,
		GSID:         ev.GSID,
		FromSat:      ev.FromSat,
		ToSat:        ev.ToSat,
		ConvergenceS: round3(convergence),
		AdjacencyUpS: round3(adjS),
		RoutePresent: round3(routeS),
	}

	lost := sent - received
	lossPct := 0.0
	if sent > 0 {
		lossPct = float64(lost) / float64(sent) * 100
	}
	loss := models.PacketLossRecord{
		SimTime:  ev.SimTime,
		GSID:     ev.GSID,
		FromSat:  ev.FromSat,
		ToSat:    ev.ToSat,
		Sent:     sent,
		Received: received,
		Lost:     lost,
		LossPct:  round1(lossPct),
	}

	firstOkS, interruptionS := timeoutS, timeoutS
	if !firstOkAfterGap.IsZero() {
		firstOkS = clamp(firstOkAfterGap.Sub(start).Seconds(), timeoutS)
		interruptionS = firstOkS
	} else if haveTarget {
		interruptionS = clamp(endElapsed, timeoutS)
	}
	inter := models.InterruptionRecord{
		SimTime:       ev.SimTime,
		GSID:          ev.GSID,
		LastOkS:       round3(clamp(lastOk.Sub(start).Seconds(), timeoutS)),
		FirstOkS:      round3(firstOkS),
		InterruptionS: round3(interruptionS),
	}

	r.store.AppendHandoverOutcome(conv, loss, inter)
	log.Info("measurement complete",
		"convergence_s", conv.ConvergenceS,
		"loss_pct", loss.LossPct,
		"interruption_s", inter.InterruptionS,
		"sent", sent,
	)
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func round3(v float64) float64 { return roundTo(v, 1000) }
func round1(v float64) float64 { return roundTo(v, 10) }

func roundTo(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
