package collector

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orrery/collector/models"
)

func fastConfig() Config {
	cfg := Defaults()
	cfg.PollInterval = 50 * time.Millisecond
	cfg.FloodProbeDelay = 10 * time.Millisecond
	cfg.HandoverTimeout = 300 * time.Millisecond
	cfg.CommandTimeout = 500 * time.Millisecond
	cfg.AdjPollInterval = 20 * time.Millisecond
	cfg.ProbeInterval = 10 * time.Millisecond
	cfg.ConnectSettleDelay = 0
	cfg.PollStopGrace = time.Second
	cfg.TaskDrainGrace = time.Second
	return cfg
}

func testInventory() models.Inventory {
	return models.Inventory{SatIDs: []int{0, 1, 2}, GSIDs: []string{"gs0", "gs1"}}
}

// deadRunner simulates a deployment whose routing daemons never started.
func deadRunner() RunnerFunc {
	return func(ctx context.Context, node, command string) (string, error) {
		if strings.HasPrefix(command, "ls ") {
			return "ls: cannot access: No such file or directory", nil
		}
		return "vtysh: failed to connect to any daemons", nil
	}
}

// liveRunner simulates reachable daemons with an empty network: neighbor up,
// no spf-log support, no routes yet, pings failing.
func liveRunner() RunnerFunc {
	return func(ctx context.Context, node, command string) (string, error) {
		switch {
		case strings.HasPrefix(command, "ls "):
			return "/tmp/frr_pids/" + node + "/isisd.vty", nil
		case strings.Contains(command, "show isis neighbor"):
			return " sat1  eth0  2  Up  28  2020.2020.2020", nil
		case strings.Contains(command, "spf-log"), strings.Contains(command, "summary"):
			return "Unknown command", nil
		case strings.Contains(command, "database"):
			return "", nil
		case strings.Contains(command, "ping"):
			return "1 packets transmitted, 0 received, 100% packet loss", nil
		}
		return "", nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartRequiresNodes(t *testing.T) {
	c, err := New(fastConfig(), models.Inventory{}, deadRunner(), nil, nil)
	require.NoError(t, err)
	assert.Error(t, c.Start(nil))
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(fastConfig(), testInventory(), nil, nil, nil)
	assert.Error(t, err)
}

// Degraded start: the diagnostic finds no daemon sockets. Collection still
// starts, the poller stays off, and handover tasks clamp convergence to the
// timeout while still emitting loss and interruption records.
func TestDegradedStart(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(func() float64 { return 99 }))
	defer func() { _ = c.Stop() }()

	st := c.Status()
	assert.True(t, st.Running)
	assert.False(t, st.ControlPlaneOK)
	assert.False(t, st.SPFEnabled)
	assert.Equal(t, int64(0), st.PollCycles)

	c.OnHandover("gs0", 0, 1)
	waitFor(t, 3*time.Second, func() bool { return c.Status().Counts.Convergence == 1 })

	require.NoError(t, c.Stop())
	conv := c.Summary()
	assert.Equal(t, 1, conv.TotalHandovers)
	assert.Equal(t, 0.3, conv.AvgConvergenceS) // clamped to the 300ms timeout
	assert.Equal(t, 1, c.Status().Counts.PacketLoss)
	assert.Equal(t, 1, c.Status().Counts.Interruptions)
}

func TestStartIsIdempotent(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), liveRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))
	defer func() { _ = c.Stop() }()
	require.NoError(t, c.Start(nil))

	st := c.Status()
	assert.True(t, st.Running)
	assert.True(t, st.ControlPlaneOK)
}

// Stop during an in-flight handover returns promptly and still yields one
// record of each kind.
func TestStopDrainsInFlightHandover(t *testing.T) {
	cfg := fastConfig()
	cfg.HandoverTimeout = 30 * time.Second
	peers := PeerLookupFunc(func(string) (string, bool) { return "10.0.0.2", true })
	c, err := New(cfg, testInventory(), liveRunner(), peers, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))

	c.OnHandover("gs1", 1, 2)
	waitFor(t, time.Second, func() bool { return c.Status().OutstandingTasks == 1 })
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), 3*time.Second)

	counts := c.Status().Counts
	assert.Equal(t, 1, counts.Convergence)
	assert.Equal(t, 1, counts.PacketLoss)
	assert.Equal(t, 1, counts.Interruptions)
	assert.LessOrEqual(t, c.Summary().MaxConvergenceS, 30.0)
}

// One record of each kind per notification, regardless of how the
// notification arrives (direct callback or bus message).
func TestOneRecordPerNotification(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))
	defer func() { _ = c.Stop() }()

	c.OnConnect("gs0", 1)
	c.OnHandover("gs1", 1, 2)
	require.NoError(t, c.Bus().Publish(HandoverEvent("gs0", 2, 0, 140)))
	c.OnDisconnect("gs1")

	waitFor(t, 3*time.Second, func() bool { return c.Status().Counts.Convergence == 3 })
	counts := c.Status().Counts
	assert.Equal(t, 3, counts.Convergence)
	assert.Equal(t, 3, counts.PacketLoss)
	assert.Equal(t, 3, counts.Interruptions)
	assert.Equal(t, int64(1), c.Status().Disconnects)
}

func TestCallbacksIgnoredWhenStopped(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))
	require.NoError(t, c.Stop())

	c.OnHandover("gs0", 0, 1)
	c.OnDisconnect("gs0")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.Status().Counts.Convergence)
	assert.Equal(t, int64(0), c.Status().Disconnects)
}

// Export, load, re-summarise: identical summaries (round-trip property).
func TestExportRoundTrip(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(func() float64 { return 10 }))

	c.OnConnect("gs0", 1)
	waitFor(t, 3*time.Second, func() bool { return c.Status().Counts.Convergence == 1 })
	require.NoError(t, c.Stop())

	path := filepath.Join(t.TempDir(), "metrics.json")
	written, err := c.ExportJSON(path)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	doc, err := LoadExport(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Summary, doc.Resummarize())
	assert.Len(t, doc.ConvergenceEvents, 1)
	assert.Len(t, doc.PacketLossEvents, 1)
	assert.Len(t, doc.ServiceInterruptions, 1)
	assert.Equal(t, 10.0, doc.ConvergenceEvents[0].SimTime)
	assert.NotEmpty(t, doc.Metadata.RunID)
}

func TestExportFailureSurfaced(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	_, err = c.ExportJSON(filepath.Join(t.TempDir(), "missing", "deep", "metrics.json"))
	assert.Error(t, err)
}

func TestDefaultExportPath(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, "isis_metrics_2025-03-14T15-09-26.json", DefaultExportPath(ts))
}

func TestHealthReflectsDegradedMode(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))
	defer func() { _ = c.Stop() }()

	snap := c.Health(context.Background())
	assert.Equal(t, "unhealthy", string(snap.Overall))
}

func TestRestartClearsCollections(t *testing.T) {
	c, err := New(fastConfig(), testInventory(), deadRunner(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(nil))
	c.OnConnect("gs0", 1)
	waitFor(t, 3*time.Second, func() bool { return c.Status().Counts.Convergence == 1 })
	require.NoError(t, c.Stop())
	firstRun := c.Status().RunID

	require.NoError(t, c.Start(nil))
	defer func() { _ = c.Stop() }()
	assert.Equal(t, 0, c.Status().Counts.Convergence)
	assert.NotEqual(t, firstRun, c.Status().RunID)
}
