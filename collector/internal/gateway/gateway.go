// Package gateway serialises control-plane command execution per node.
package gateway

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	metrics "orrery/collector/internal/telemetry/metrics"
)

// Runner executes one raw command on a node and returns its combined output.
// Implementations bridge to the emulator (network-namespace exec, vtysh over
// a unix socket) or to fakes in tests. Runner errors other than context
// expiry are reported through the returned text; interpretation of error
// markers belongs to the parsers and the diagnostic prober.
type Runner interface {
	Run(ctx context.Context, node, command string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, node, command string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, node, command string) (string, error) {
	return f(ctx, node, command)
}

// Gateway enforces the command channel contract: calls to the same node are
// serialised so output never interleaves, calls to distinct nodes run in
// parallel, and every call is capped by the command timeout.
type Gateway struct {
	runner  Runner
	timeout time.Duration
	log     *slog.Logger

	mu    sync.Mutex
	nodes map[string]*sync.Mutex

	mExec     metrics.Counter
	mTimeouts metrics.Counter
}

// New constructs a Gateway. A zero timeout falls back to 5s.
func New(runner Runner, timeout time.Duration, log *slog.Logger, provider metrics.Provider) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Gateway{
		runner:    runner,
		timeout:   timeout,
		log:       log.With("component", "gateway"),
		nodes:     make(map[string]*sync.Mutex),
		mExec:     provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "gateway", Name: "exec_total", Help: "Control-plane commands issued", Labels: []string{"node"}}}),
		mTimeouts: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "gateway", Name: "exec_timeouts_total", Help: "Commands that exceeded the command timeout", Labels: []string{"node"}}}),
	}
}

// Timeout reports the per-command cap.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

func (g *Gateway) nodeLock(node string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.nodes[node]
	if l == nil {
		l = &sync.Mutex{}
		g.nodes[node] = l
	}
	return l
}

type execResult struct {
	text string
	err  error
}

// Exec runs the command on the node. The command itself is capped by the
// command timeout; on expiry it returns ("", false) and lets the in-flight
// call finish in the background. Waiting for an earlier command on the same
// node to release the node is not counted against the timeout. Runner errors with partial output are returned as raw text
// with ok=true.
func (g *Gateway) Exec(ctx context.Context, node, command string) (string, bool) {
	g.mExec.Inc(1, node)
	lock := g.nodeLock(node)
	lock.Lock()

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	done := make(chan execResult, 1)
	go func() {
		defer lock.Unlock()
		defer cancel()
		text, err := g.runner.Run(runCtx, node, command)
		done <- execResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && res.text == "" {
			if runCtx.Err() != nil {
				g.mTimeouts.Inc(1, node)
				return "", false
			}
			// Non-timeout failures surface as raw text so the caller's
			// parsers can classify the error marker.
			return res.err.Error(), true
		}
		return res.text, true
	case <-runCtx.Done():
		g.mTimeouts.Inc(1, node)
		g.log.Debug("command timed out", "node", node, "command", command)
		return "", false
	}
}

// CommandSet composes the raw command strings the collector issues over the
// opaque node channel. Templates substitute {node}, {command}, and {target}.
type CommandSet struct {
	Control       string   `yaml:"control" json:"control"`
	SocketCheck   string   `yaml:"socket_check" json:"socket_check"`
	Neighbor      string   `yaml:"neighbor" json:"neighbor"`
	Route         string   `yaml:"route" json:"route"`
	SPFCandidates []string `yaml:"spf_candidates" json:"spf_candidates"`
	LSDB          string   `yaml:"lsdb" json:"lsdb"`
	Ping          string   `yaml:"ping" json:"ping"`
}

// DefaultCommandSet matches the FRR layout the emulation lays down: one VTY
// socket directory per node, IS-IS as the routing daemon.
func DefaultCommandSet() CommandSet {
	return CommandSet{
		Control:     `vtysh --vty_socket /tmp/frr_pids/{node} -c "{command}"`,
		SocketCheck: `ls /tmp/frr_pids/{node}/isisd.vty`,
		Neighbor:    "show isis neighbor",
		Route:       "show ip route isis",
		SPFCandidates: []string{
			"show isis spf-log",
			"show isis spf-log level-2",
			"show isis summary",
		},
		LSDB: "show isis database",
		Ping: "ping -c 1 -W 1 {target}",
	}
}

// ControlCmd renders the raw command that runs a control-plane CLI command
// on the node.
func (c CommandSet) ControlCmd(node, command string) string {
	out := strings.ReplaceAll(c.Control, "{node}", node)
	return strings.ReplaceAll(out, "{command}", command)
}

// SocketCheckCmd renders the raw command probing for the daemon VTY socket.
func (c CommandSet) SocketCheckCmd(node string) string {
	return strings.ReplaceAll(c.SocketCheck, "{node}", node)
}

// PingCmd renders the single-packet reachability probe.
func (c CommandSet) PingCmd(target string) string {
	return strings.ReplaceAll(c.Ping, "{target}", target)
}

// Control executes a control-plane CLI command on the node through the
// gateway.
func (g *Gateway) Control(ctx context.Context, cmds CommandSet, node, command string) (string, bool) {
	return g.Exec(ctx, node, cmds.ControlCmd(node, command))
}

// ShellRunner executes node commands through a local shell, substituting
// {node} and {command} into the template. The default enters the node's
// network namespace, which is how the emulation exposes per-node shells.
type ShellRunner struct {
	Template string
}

// DefaultShellTemplate runs the command inside the node's netns.
const DefaultShellTemplate = `ip netns exec {node} {command}`

func (r ShellRunner) Run(ctx context.Context, node, command string) (string, error) {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = DefaultShellTemplate
	}
	line := strings.ReplaceAll(tmpl, "{node}", node)
	line = strings.ReplaceAll(line, "{command}", command)
	out, err := exec.CommandContext(ctx, "sh", "-c", line).CombinedOutput()
	return string(out), err
}
