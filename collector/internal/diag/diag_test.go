package diag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orrery/collector/internal/gateway"
	"orrery/collector/models"
)

const neighborUp = ` System Id           Interface   L  State        Holdtime SNPA
 sat1                 sat0-eth0   2  Up            28       2020.2020.2020`

const spfLog = `Area 49.0001:
Duration (msec)    When         Trigger
              1    00:00:10 ago  topology change`

const lsdb = `Area 49.0001:
LSP ID                  PduLen  SeqNumber   Chksum  Holdtime  ATT/P/OL
sat0.00-00           *    452  0x00000005  0xabcd     720    0/0/0`

func newProber(t *testing.T, runner gateway.Runner) *Prober {
	t.Helper()
	gw := gateway.New(runner, time.Second, nil, nil)
	inv := &models.Inventory{SatIDs: []int{0, 1}, GSIDs: []string{"gs0"}}
	return New(gw, gateway.DefaultCommandSet(), inv, nil)
}

func TestFullCapability(t *testing.T) {
	p := newProber(t, gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		switch {
		case strings.HasPrefix(command, "ls "):
			return "/tmp/frr_pids/sat0/isisd.vty", nil
		case strings.Contains(command, "show isis neighbor"):
			return neighborUp, nil
		case strings.Contains(command, "show isis spf-log"):
			return spfLog, nil
		case strings.Contains(command, "show isis database"):
			return lsdb, nil
		}
		return "", nil
	}))

	report := p.Run(context.Background())
	assert.Equal(t, "sat0", report.ProbedNode)
	assert.True(t, report.ControlPlaneOK)
	assert.Equal(t, "show isis spf-log", report.SPFCommand)
	assert.Equal(t, "show isis database", report.LSDBCommand)
	assert.Equal(t, "show isis neighbor", report.NeighborCmd)
	assert.Equal(t, "show ip route isis", report.RouteCmd)
}

func TestMissingSocketDisablesControlPlane(t *testing.T) {
	p := newProber(t, gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		if strings.HasPrefix(command, "ls ") {
			return "ls: cannot access '/tmp/frr_pids/sat0/isisd.vty': No such file or directory", nil
		}
		t.Errorf("probe continued past socket check: %s", command)
		return "", nil
	}))

	report := p.Run(context.Background())
	assert.False(t, report.ControlPlaneOK)
	assert.Empty(t, report.SPFCommand)
}

func TestNeighborConnectionRefused(t *testing.T) {
	p := newProber(t, gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		if strings.HasPrefix(command, "ls ") {
			return "/tmp/frr_pids/sat0/isisd.vty", nil
		}
		return "vtysh: failed to connect to any daemons", nil
	}))

	report := p.Run(context.Background())
	assert.False(t, report.ControlPlaneOK)
}

// The first spf-log variant is rejected by this daemon build; the prober
// falls through to the next candidate.
func TestSPFCandidateFallback(t *testing.T) {
	p := newProber(t, gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		switch {
		case strings.HasPrefix(command, "ls "):
			return "/tmp/frr_pids/sat0/isisd.vty", nil
		case strings.Contains(command, "show isis spf-log level-2"):
			return spfLog, nil
		case strings.Contains(command, "show isis spf-log"):
			return "Unknown command: show isis spf-log", nil
		case strings.Contains(command, "show isis neighbor"):
			return neighborUp, nil
		case strings.Contains(command, "show isis database"):
			return lsdb, nil
		}
		return "", nil
	}))

	report := p.Run(context.Background())
	require.True(t, report.ControlPlaneOK)
	assert.Equal(t, "show isis spf-log level-2", report.SPFCommand)
}

func TestNoSPFCommandStillEnablesLSDB(t *testing.T) {
	p := newProber(t, gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		switch {
		case strings.HasPrefix(command, "ls "):
			return "/tmp/frr_pids/sat0/isisd.vty", nil
		case strings.Contains(command, "spf-log"), strings.Contains(command, "summary"):
			return "Unknown command", nil
		case strings.Contains(command, "show isis neighbor"):
			return neighborUp, nil
		case strings.Contains(command, "show isis database"):
			return lsdb, nil
		}
		return "", nil
	}))

	report := p.Run(context.Background())
	assert.True(t, report.ControlPlaneOK)
	assert.Empty(t, report.SPFCommand)
	assert.Equal(t, "show isis database", report.LSDBCommand)
}

func TestEmptyInventory(t *testing.T) {
	gw := gateway.New(gateway.RunnerFunc(func(ctx context.Context, node, command string) (string, error) {
		return "", nil
	}), time.Second, nil, nil)
	p := New(gw, gateway.DefaultCommandSet(), &models.Inventory{}, nil)
	report := p.Run(context.Background())
	assert.False(t, report.ControlPlaneOK)
	assert.Empty(t, report.ProbedNode)
}
