package collector

import (
	"time"

	"orrery/collector/internal/gateway"
)

// Config carries every tuning knob of the collector. All durations have
// working defaults from Defaults(); zero values fall back to them, except
// ConnectSettleDelay, where zero means no settle wait.
type Config struct {
	// PollInterval is the periodic SPF/LSP collection tick.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// FloodProbeDelay is the wait between detecting an LSDB change and
	// probing the fleet for it. Keep it at or above the expected one-hop
	// flood time and below the poll interval.
	FloodProbeDelay time.Duration `yaml:"flood_probe_delay" json:"flood_probe_delay"`
	// HandoverTimeout bounds one measurement task.
	HandoverTimeout time.Duration `yaml:"handover_timeout" json:"handover_timeout"`
	// CommandTimeout bounds one node command.
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
	// AdjPollInterval is the control-plane poll cadence inside a task.
	AdjPollInterval time.Duration `yaml:"adj_poll_interval" json:"adj_poll_interval"`
	// ProbeInterval is the reachability probe cadence inside a task.
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
	// GapResetWindow discards a recovery candidate when a failure follows
	// it within the window.
	GapResetWindow time.Duration `yaml:"gap_reset_window" json:"gap_reset_window"`
	// ConnectSettleDelay postpones the first control-plane poll after a
	// connect while the node's daemons come up.
	ConnectSettleDelay time.Duration `yaml:"connect_settle_delay" json:"connect_settle_delay"`
	// PollStopGrace bounds the wait for the poll loop on stop.
	PollStopGrace time.Duration `yaml:"poll_stop_grace" json:"poll_stop_grace"`
	// TaskDrainGrace bounds the per-task wait on stop.
	TaskDrainGrace time.Duration `yaml:"task_drain_grace" json:"task_drain_grace"`

	// SPFSatStride selects every n-th satellite for SPF polling.
	SPFSatStride int `yaml:"spf_sat_stride" json:"spf_sat_stride"`
	// LSPSatStride selects every n-th satellite for flooding probes.
	LSPSatStride int `yaml:"lsp_sat_stride" json:"lsp_sat_stride"`

	// StoreCap caps each record collection; 0 keeps them unbounded.
	StoreCap int `yaml:"store_cap" json:"store_cap"`

	// AdjacencyKeyword is the neighbor state token meaning "up".
	AdjacencyKeyword string `yaml:"adjacency_keyword" json:"adjacency_keyword"`
	// RouteMarker is the protocol tag on installed routes.
	RouteMarker string `yaml:"route_marker" json:"route_marker"`

	// Commands are the raw command templates issued over the node channel.
	Commands gateway.CommandSet `yaml:"commands" json:"commands"`

	// EventBufferSize is the per-subscriber bus buffer.
	EventBufferSize int `yaml:"event_buffer_size" json:"event_buffer_size"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend" json:"metrics_backend"`
}

// Defaults returns the configuration the emulation runs with.
func Defaults() Config {
	return Config{
		PollInterval:       2 * time.Second,
		FloodProbeDelay:    500 * time.Millisecond,
		HandoverTimeout:    30 * time.Second,
		CommandTimeout:     5 * time.Second,
		AdjPollInterval:    500 * time.Millisecond,
		ProbeInterval:      100 * time.Millisecond,
		GapResetWindow:     500 * time.Millisecond,
		ConnectSettleDelay: 1500 * time.Millisecond,
		PollStopGrace:      5 * time.Second,
		TaskDrainGrace:     2 * time.Second,
		SPFSatStride:       8,
		LSPSatStride:       4,
		AdjacencyKeyword:   "Up",
		RouteMarker:        "I",
		Commands:           gateway.DefaultCommandSet(),
		EventBufferSize:    256,
		MetricsBackend:     "prom",
	}
}

func (c *Config) applyDefaults() {
	d := Defaults()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.FloodProbeDelay <= 0 {
		c.FloodProbeDelay = d.FloodProbeDelay
	}
	if c.HandoverTimeout <= 0 {
		c.HandoverTimeout = d.HandoverTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.AdjPollInterval <= 0 {
		c.AdjPollInterval = d.AdjPollInterval
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.GapResetWindow <= 0 {
		c.GapResetWindow = d.GapResetWindow
	}
	if c.PollStopGrace <= 0 {
		c.PollStopGrace = d.PollStopGrace
	}
	if c.TaskDrainGrace <= 0 {
		c.TaskDrainGrace = d.TaskDrainGrace
	}
	if c.SPFSatStride <= 0 {
		c.SPFSatStride = d.SPFSatStride
	}
	if c.LSPSatStride <= 0 {
		c.LSPSatStride = d.LSPSatStride
	}
	if c.AdjacencyKeyword == "" {
		c.AdjacencyKeyword = d.AdjacencyKeyword
	}
	if c.RouteMarker == "" {
		c.RouteMarker = d.RouteMarker
	}
	if c.Commands.Control == "" {
		c.Commands = d.Commands
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.MetricsBackend == "" {
		c.MetricsBackend = d.MetricsBackend
	}
}
