package handover

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orrery/collector/clock"
	"orrery/collector/internal/gateway"
	"orrery/collector/internal/store"
	"orrery/collector/models"
)

const pingOK = "1 packets transmitted, 1 received, 0% packet loss, time 0ms"
const pingFail = "1 packets transmitted, 0 received, 100% packet loss, time 0ms"

const neighborUp = " sat5   gs1-eth0   2  Up   28   2020.2020.2020"
const neighborDown = " sat5   gs1-eth0   2  Initializing   28   2020.2020.2020"

const routePresent = "I   10.0.2.0/30 [115/20] via 10.0.0.1, gs1-eth0, 00:00:12"
const routeAbsent = "C>* 10.0.0.0/30 is directly connected, gs1-eth0"

// scriptedNode answers control-plane and ping commands based on elapsed
// task time read from the manual clock.
type scriptedNode struct {
	wall  *clock.Manual
	start time.Time

	adjUpAfter time.Duration
	routeAfter time.Duration
	pingScript func(call int) bool // nil: always fail
	pingCalls  int
}

func (s *scriptedNode) Run(ctx context.Context, node, command string) (string, error) {
	elapsed := s.wall.Now().Sub(s.start)
	switch {
	case strings.Contains(command, "ping"):
		s.pingCalls++
		if s.pingScript != nil && s.pingScript(s.pingCalls) {
			return pingOK, nil
		}
		return pingFail, nil
	case strings.Contains(command, "show isis neighbor"):
		if s.adjUpAfter > 0 && elapsed >= s.adjUpAfter {
			return neighborUp, nil
		}
		return neighborDown, nil
	case strings.Contains(command, "show ip route"):
		if s.routeAfter > 0 && elapsed >= s.routeAfter {
			return routePresent, nil
		}
		return routeAbsent, nil
	}
	return "", nil
}

func inventory() *models.Inventory {
	return &models.Inventory{SatIDs: []int{3, 5, 6}, GSIDs: []string{"gs0", "gs1"}}
}

func newTestRunner(node *scriptedNode, st *store.Store, peers PeerLookup, wall *clock.Manual, opts Options) *Runner {
	gw := gateway.New(node, time.Second, nil, nil)
	return NewRunner(gw, gateway.DefaultCommandSet(), st, peers, inventory(), wall, nil, opts)
}

// Cold start: connect event, no probe target. Convergence is measured from
// the control plane alone; loss and interruption carry sentinels.
func TestConnectWithoutProbeTarget(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{wall: wall, start: wall.Now(), adjUpAfter: 600 * time.Millisecond, routeAfter: 900 * time.Millisecond}
	st := store.New(0, nil)
	noPeers := PeerLookupFunc(func(string) (string, bool) { return "", false })
	r := newTestRunner(node, st, noPeers, wall, Options{Timeout: 30 * time.Second, ControlPlaneOK: true})

	sat := 3
	r.measure(context.Background(), "t1", Event{Trigger: models.TriggerConnect, GSID: "gs0", ToSat: &sat, SimTime: 10})

	convs := st.Convergence()
	require.Len(t, convs, 1)
	c := convs[0]
	assert.Equal(t, models.TriggerConnect, c.Trigger)
	assert.InDelta(t, 0.75, c.AdjacencyUpS, 0.26)  // [0.5, 1.0] with 0.5s poll cadence
	assert.InDelta(t, 1.05, c.RoutePresent, 0.26)  // [0.8, 1.3]
	assert.Equal(t, c.RoutePresent, c.ConvergenceS)

	losses := st.PacketLoss()
	require.Len(t, losses, 1)
	assert.Equal(t, 0, losses[0].Sent)
	assert.Equal(t, 0.0, losses[0].LossPct)

	inters := st.Interruptions()
	require.Len(t, inters, 1)
	assert.Equal(t, 30.0, inters[0].FirstOkS)
	assert.Equal(t, 30.0, inters[0].InterruptionS)
}

// Handover with reachability: one early success, a seven-probe outage, then
// recovery. Adjacency restores at 1.5s, the route at 2.0s.
func TestHandoverWithOutageAndRecovery(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{
		wall:       wall,
		start:      wall.Now(),
		adjUpAfter: 1500 * time.Millisecond,
		routeAfter: 2000 * time.Millisecond,
		pingScript: func(call int) bool { return call == 1 || call > 8 },
	}
	st := store.New(0, nil)
	peers := PeerLookupFunc(func(string) (string, bool) { return "10.0.0.2", true })
	r := newTestRunner(node, st, peers, wall, Options{Timeout: 30 * time.Second, ControlPlaneOK: true})

	from, to := 5, 6
	r.measure(context.Background(), "t1", Event{Trigger: models.TriggerHandover, GSID: "gs1", FromSat: &from, ToSat: &to, SimTime: 50})

	convs := st.Convergence()
	require.Len(t, convs, 1)
	assert.InDelta(t, 2.0, convs[0].ConvergenceS, 0.3)
	assert.InDelta(t, 1.5, convs[0].AdjacencyUpS, 0.3)

	losses := st.PacketLoss()
	require.Len(t, losses, 1)
	l := losses[0]
	assert.Equal(t, 7, l.Lost)
	expectedPct := 100 * float64(l.Lost) / float64(l.Sent)
	assert.InDelta(t, expectedPct, l.LossPct, 5.0)

	inters := st.Interruptions()
	require.Len(t, inters, 1)
	assert.GreaterOrEqual(t, inters[0].InterruptionS, 0.7)
	assert.LessOrEqual(t, inters[0].InterruptionS, 1.2)
}

// A success candidate followed by an immediate failure is not the end of
// the outage; the gap keeps running until reachability is stable.
func TestGapResetOnBlip(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{
		wall:  wall,
		start: wall.Now(),
		// Convergence lands late so the task is still probing when the
		// blip happens.
		adjUpAfter: 3 * time.Second,
		routeAfter: 3 * time.Second,
		// One isolated success at 1.2s (call 13) followed by failures,
		// then stable from 2.5s (call 26).
		pingScript: func(call int) bool { return call == 13 || call > 25 },
	}
	st := store.New(0, nil)
	peers := PeerLookupFunc(func(string) (string, bool) { return "10.0.0.2", true })
	r := newTestRunner(node, st, peers, wall, Options{Timeout: 30 * time.Second, ControlPlaneOK: true})

	r.measure(context.Background(), "t1", Event{Trigger: models.TriggerHandover, GSID: "gs1", SimTime: 0})

	inters := st.Interruptions()
	require.Len(t, inters, 1)
	// The blip at 1.2s was reset; recovery lands at ~2.5s.
	assert.InDelta(t, 2.5, inters[0].FirstOkS, 0.2)
}

// Degraded control plane: no adjacency or route polls run, so both clamp to
// the timeout, while reachability is still measured.
func TestDegradedControlPlane(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{wall: wall, start: wall.Now(), pingScript: func(call int) bool { return true }}
	st := store.New(0, nil)
	peers := PeerLookupFunc(func(string) (string, bool) { return "10.0.0.2", true })
	r := newTestRunner(node, st, peers, wall, Options{Timeout: 3 * time.Second, ControlPlaneOK: false})

	r.measure(context.Background(), "t1", Event{Trigger: models.TriggerHandover, GSID: "gs1", SimTime: 0})

	convs := st.Convergence()
	require.Len(t, convs, 1)
	assert.Equal(t, 3.0, convs[0].ConvergenceS)
	assert.Equal(t, 3.0, convs[0].AdjacencyUpS)
	assert.Equal(t, 3.0, convs[0].RoutePresent)

	losses := st.PacketLoss()
	require.Len(t, losses, 1)
	assert.Positive(t, losses[0].Sent)
	assert.Equal(t, losses[0].Sent, losses[0].Received)
}

// Cancellation mid-measurement still produces one clamped record of each
// kind.
func TestCancelledTaskStillRecords(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{wall: wall, start: wall.Now()}
	st := store.New(0, nil)
	peers := PeerLookupFunc(func(string) (string, bool) { return "10.0.0.2", true })
	r := newTestRunner(node, st, peers, wall, Options{Timeout: 30 * time.Second, ControlPlaneOK: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.measure(ctx, "t1", Event{Trigger: models.TriggerHandover, GSID: "gs1", SimTime: 0})

	c := st.Counts()
	assert.Equal(t, 1, c.Convergence)
	assert.Equal(t, 1, c.PacketLoss)
	assert.Equal(t, 1, c.Interruptions)
	assert.LessOrEqual(t, st.Convergence()[0].ConvergenceS, 30.0)
}

// Events for ground stations outside the inventory are dropped whole.
func TestUnknownGSProducesNoRecords(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{wall: wall, start: wall.Now()}
	st := store.New(0, nil)
	r := newTestRunner(node, st, nil, wall, Options{Timeout: time.Second, ControlPlaneOK: true})

	r.measure(context.Background(), "t1", Event{Trigger: models.TriggerHandover, GSID: "gs-unknown", SimTime: 0})
	assert.Equal(t, 0, st.Counts().Convergence)
}

func TestSpawnAndDrain(t *testing.T) {
	wall := clock.NewManual(time.Unix(5000, 0))
	node := &scriptedNode{wall: wall, start: wall.Now(), adjUpAfter: 100 * time.Millisecond, routeAfter: 100 * time.Millisecond}
	st := store.New(0, nil)
	noPeers := PeerLookupFunc(func(string) (string, bool) { return "", false })
	r := newTestRunner(node, st, noPeers, wall, Options{Timeout: 10 * time.Second, ControlPlaneOK: true})

	r.Spawn(context.Background(), Event{Trigger: models.TriggerConnect, GSID: "gs0", SimTime: 1})
	r.Drain(2 * time.Second)
	assert.Equal(t, 0, r.Outstanding())
	assert.Equal(t, 1, st.Counts().Convergence)
}
