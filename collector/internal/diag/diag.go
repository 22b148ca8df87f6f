// Package diag verifies at start which control-plane commands the deployment
// actually supports.
package diag

import (
	"context"
	"log/slog"
	"strings"

	"orrery/collector/internal/gateway"
	"orrery/collector/internal/parse"
	"orrery/collector/models"
)

// Prober runs the one-shot start-time capability check.
type Prober struct {
	gw   *gateway.Gateway
	cmds gateway.CommandSet
	inv  *models.Inventory
	log  *slog.Logger
}

// New constructs a Prober.
func New(gw *gateway.Gateway, cmds gateway.CommandSet, inv *models.Inventory, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{gw: gw, cmds: cmds, inv: inv, log: log.With("component", "diag")}
}

// connectionFailed matches the markers vtysh prints when the daemon socket
// is absent or refuses the connection.
func connectionFailed(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "failed to connect") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "error")
}

func unsupported(output string) bool {
	return strings.Contains(output, "Unknown command") || connectionFailed(output)
}

// Run executes the diagnostic sequence and returns the capability report.
// The report is valid even when the control plane is down; callers decide
// what to start based on its flags.
func (p *Prober) Run(ctx context.Context) models.CapabilityReport {
	report := models.CapabilityReport{}

	node, ok := p.pickNode()
	if !ok {
		p.log.Error("no nodes in inventory, control plane unavailable")
		return report
	}
	report.ProbedNode = node
	p.log.Info("probing control plane", "node", node)

	// Socket presence first: a missing VTY socket means the daemons never
	// came up and every later probe would just time out.
	out, ok := p.gw.Exec(ctx, node, p.cmds.SocketCheckCmd(node))
	if !ok || strings.Contains(out, "No such") {
		p.log.Error("daemon socket missing", "node", node, "output", strings.TrimSpace(out))
		return report
	}

	out, ok = p.gw.Control(ctx, p.cmds, node, p.cmds.Neighbor)
	if !ok || connectionFailed(out) {
		p.log.Error("neighbor probe failed", "node", node, "output", firstLine(out))
		return report
	}
	report.ControlPlaneOK = true
	report.NeighborCmd = p.cmds.Neighbor
	report.RouteCmd = p.cmds.Route

	for _, cand := range p.cmds.SPFCandidates {
		out, ok = p.gw.Control(ctx, p.cmds, node, cand)
		if !ok || unsupported(out) {
			p.log.Info("spf candidate not supported", "command", cand)
			continue
		}
		entries := parse.SPFLog(out)
		p.log.Info("spf candidate probed", "command", cand, "entries", len(entries))
		if len(entries) > 0 {
			report.SPFCommand = cand
			break
		}
	}
	if report.SPFCommand == "" {
		p.log.Warn("no usable spf-log command, SPF collection disabled")
	}

	out, ok = p.gw.Control(ctx, p.cmds, node, p.cmds.LSDB)
	if ok && !unsupported(out) {
		if lsps := parse.LSDB(out); len(lsps) > 0 {
			report.LSDBCommand = p.cmds.LSDB
			p.log.Info("lsdb probe ok", "lsps", len(lsps))
		}
	}
	if report.LSDBCommand == "" {
		p.log.Warn("lsdb probe yielded no LSPs, flooding collection disabled")
	}

	return report
}

func (p *Prober) pickNode() (string, bool) {
	if id, ok := p.inv.ReferenceSat(); ok {
		return models.SatName(id), true
	}
	if len(p.inv.GSIDs) > 0 {
		return p.inv.GSIDs[0], true
	}
	return "", false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
