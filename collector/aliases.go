package collector

// Public surface for types whose implementations live under internal/.
// Embedders (the emulator driver, the CLI) program against these names.

import (
	"log/slog"

	"orrery/collector/internal/gateway"
	"orrery/collector/internal/handover"
	"orrery/collector/internal/runtimecfg"
	telemevents "orrery/collector/internal/telemetry/events"
)

// Runner is the node command channel implementation seam.
type Runner = gateway.Runner

// RunnerFunc adapts a function to Runner.
type RunnerFunc = gateway.RunnerFunc

// ShellRunner executes node commands through a local shell template.
type ShellRunner = gateway.ShellRunner

// CommandSet holds the raw command templates the collector issues.
type CommandSet = gateway.CommandSet

// DefaultCommandSet returns the FRR/IS-IS command templates.
func DefaultCommandSet() CommandSet { return gateway.DefaultCommandSet() }

// PeerLookup resolves reachability probe targets for a ground station.
type PeerLookup = handover.PeerLookup

// PeerLookupFunc adapts a function to PeerLookup.
type PeerLookupFunc = handover.PeerLookupFunc

// Event is one bus notification.
type Event = telemevents.Event

// BusStats summarizes bus activity.
type BusStats = telemevents.BusStats

// ConnectEvent builds a topology connect notification for the bus.
func ConnectEvent(gs string, sat int, simTime float64) Event {
	return telemevents.Connect(gs, sat, simTime)
}

// HandoverEvent builds a topology handover notification for the bus.
func HandoverEvent(gs string, fromSat, toSat int, simTime float64) Event {
	return telemevents.Handover(gs, fromSat, toSat, simTime)
}

// DisconnectEvent builds a topology disconnect notification for the bus.
func DisconnectEvent(gs string, simTime float64) Event {
	return telemevents.Disconnect(gs, simTime)
}

// Tuning holds the hot-reloadable knobs.
type Tuning = runtimecfg.Tuning

// Duration is the YAML-friendly duration used in config files.
type Duration = runtimecfg.Duration

// TuningWatcher hot-reloads a tuning file.
type TuningWatcher = runtimecfg.Watcher

// WatchTuning starts a tuning-file watcher; wire onChange to ApplyTuning.
func WatchTuning(path string, log *slog.Logger, onChange func(Tuning)) (*TuningWatcher, error) {
	return runtimecfg.Watch(path, log, onChange)
}
