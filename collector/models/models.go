package models

import (
	"fmt"
	"sort"
	"strings"
)

// Trigger identifies the topology event that caused a measurement.
type Trigger string

const (
	TriggerHandover   Trigger = "handover"
	TriggerConnect    Trigger = "connect"
	TriggerDisconnect Trigger = "disconnect"
)

// NotPropagated marks a node that did not carry the new LSP sequence at
// probe time. Kept as -1 so the exported JSON matches the historical
// artifact layout consumed by the plotting tools.
const NotPropagated = -1.0

// ConvergenceRecord captures how long the routing protocol took to restore
// forwarding state after one topology change. Durations are seconds from the
// event, clamped to the measurement timeout.
type ConvergenceRecord struct {
	SimTime      float64 `json:"timestamp"`
	Trigger      Trigger `json:"trigger"`
	GSID         string  `json:"gs_id"`
	FromSat      *int    `json:"from_sat"`
	ToSat        *int    `json:"to_sat"`
	ConvergenceS float64 `json:"convergence_time_s"`
	AdjacencyUpS float64 `json:"adjacency_up_time_s"`
	RoutePresent float64 `json:"route_present_time_s"`
}

// PacketLossRecord counts reachability probes during one handover window.
type PacketLossRecord struct {
	SimTime  float64 `json:"timestamp"`
	GSID     string  `json:"gs_id"`
	FromSat  *int    `json:"from_sat"`
	ToSat    *int    `json:"to_sat"`
	Sent     int     `json:"packets_sent"`
	Received int     `json:"packets_received"`
	Lost     int     `json:"packets_lost"`
	LossPct  float64 `json:"loss_percent"`
}

// InterruptionRecord describes the reachability outage around one topology
// change. All values are seconds from the start of the measurement task.
// LastOkS is the latest successful probe the task saw (probing continues
// after recovery, so it can fall after FirstOkS). FirstOkS is the first
// success after the outage, or the timeout. InterruptionS runs from the task
// start to that recovery, or to the end of probing when none came.
type InterruptionRecord struct {
	SimTime       float64 `json:"timestamp"`
	GSID          string  `json:"gs_id"`
	LastOkS       float64 `json:"last_ping_ok"`
	FirstOkS      float64 `json:"first_ping_ok"`
	InterruptionS float64 `json:"interruption_s"`
}

// SPFEvent is a single shortest-path-first computation reported by a node's
// SPF log.
type SPFEvent struct {
	SimTime    float64 `json:"timestamp"`
	Node       string  `json:"node"`
	DurationMs float64 `json:"spf_duration_ms"`
	Trigger    string  `json:"spf_trigger"`
	When       string  `json:"when"`
}

// LSPFloodingMeasurement records how far one new LSP sequence had spread at
// probe time. Propagation values are seconds from the start of the probe
// round (after the flood probe delay) to that node's answer, or
// NotPropagated.
type LSPFloodingMeasurement struct {
	SimTime     float64            `json:"timestamp"`
	LSPID       string             `json:"lsp_id"`
	Sequence    string             `json:"sequence"`
	OriginNode  string             `json:"origin_node"`
	Propagation map[string]float64 `json:"propagation"`
}

// CapabilityReport is the outcome of the start-time diagnostic probe.
type CapabilityReport struct {
	ProbedNode     string `json:"probed_node"`
	ControlPlaneOK bool   `json:"control_plane_ok"`
	SPFCommand     string `json:"spf_cmd,omitempty"`
	LSDBCommand    string `json:"lsdb_cmd,omitempty"`
	NeighborCmd    string `json:"neighbor_cmd,omitempty"`
	RouteCmd       string `json:"route_cmd,omitempty"`
}

// SPFCollectionEnabled reports whether periodic SPF scraping can run.
func (r CapabilityReport) SPFCollectionEnabled() bool {
	return r.ControlPlaneOK && r.SPFCommand != ""
}

// Inventory is the fixed set of nodes known at start. Satellites are keyed
// by numeric id, ground stations by their string id.
type Inventory struct {
	SatIDs []int
	GSIDs  []string
}

// SatName renders the canonical node name for a satellite id.
func SatName(id int) string { return fmt.Sprintf("sat%d", id) }

// IsSat reports whether a node name denotes a satellite.
func IsSat(node string) bool { return strings.HasPrefix(node, "sat") }

// Normalize sorts the inventory so stride-based subset selection is
// deterministic across runs.
func (inv *Inventory) Normalize() {
	sort.Ints(inv.SatIDs)
	sort.Strings(inv.GSIDs)
}

// SatSubset returns every stride-th satellite id (stride <= 1 returns all).
func (inv *Inventory) SatSubset(stride int) []int {
	if stride <= 1 {
		out := make([]int, len(inv.SatIDs))
		copy(out, inv.SatIDs)
		return out
	}
	var out []int
	for i, id := range inv.SatIDs {
		if i%stride == 0 {
			out = append(out, id)
		}
	}
	return out
}

// ReferenceSat returns the LSDB reference node (lowest satellite id).
func (inv *Inventory) ReferenceSat() (int, bool) {
	if len(inv.SatIDs) == 0 {
		return 0, false
	}
	return inv.SatIDs[0], true
}

// Contains reports whether the node name belongs to the inventory.
func (inv *Inventory) Contains(node string) bool {
	if IsSat(node) {
		for _, id := range inv.SatIDs {
			if SatName(id) == node {
				return true
			}
		}
		return false
	}
	for _, gs := range inv.GSIDs {
		if gs == node {
			return true
		}
	}
	return false
}
