// Package store holds the append-only measurement collections.
package store

import (
	"sync"

	"orrery/collector/models"
	metrics "orrery/collector/internal/telemetry/metrics"
)

// Counts is a point-in-time size snapshot per collection.
type Counts struct {
	Convergence   int `json:"convergence_events"`
	PacketLoss    int `json:"packet_loss_events"`
	Interruptions int `json:"service_interruptions"`
	SPF           int `json:"spf_events"`
	LSP           int `json:"lsp_measurements"`
	Dropped       int `json:"dropped_records"`
}

// Store is the shared sink for all measurement tasks. Appends happen under a
// single mutex; readers snapshot before iterating. A non-positive cap keeps
// collections unbounded; otherwise each collection drops its oldest records
// past the watermark and counts the drops.
type Store struct {
	mu     sync.Mutex
	frozen bool
	cap    int

	convergence   []models.ConvergenceRecord
	packetLoss    []models.PacketLossRecord
	interruptions []models.InterruptionRecord
	spf           []models.SPFEvent
	lsp           []models.LSPFloodingMeasurement
	dropped       int

	mAppended metrics.Counter
}

// New constructs a Store. cap <= 0 means unbounded.
func New(cap int, provider metrics.Provider) *Store {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Store{
		cap:       cap,
		mAppended: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "orrery", Subsystem: "store", Name: "records_total", Help: "Records appended per kind", Labels: []string{"kind"}}}),
	}
}

// Freeze rejects all further appends. Called once on collector stop.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// AppendHandoverOutcome stores the three records a measurement task emits as
// one atomic append, so consumers never observe a partial outcome.
func (s *Store) AppendHandoverOutcome(c models.ConvergenceRecord, p models.PacketLossRecord, i models.InterruptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.convergence = append(s.convergence, c)
	s.packetLoss = append(s.packetLoss, p)
	s.interruptions = append(s.interruptions, i)
	s.trimLocked()
	s.mAppended.Inc(1, "convergence")
	s.mAppended.Inc(1, "packet_loss")
	s.mAppended.Inc(1, "interruption")
}

// AppendConvergence stores a single convergence record on its own. Handover
// measurement tasks do not use it: they always append through
// AppendHandoverOutcome, also when no reachability target exists.
func (s *Store) AppendConvergence(c models.ConvergenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.convergence = append(s.convergence, c)
	s.trimLocked()
	s.mAppended.Inc(1, "convergence")
}

// AppendSPF stores newly observed SPF events.
func (s *Store) AppendSPF(events ...models.SPFEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.spf = append(s.spf, events...)
	s.trimLocked()
	s.mAppended.Inc(float64(len(events)), "spf")
}

// AppendLSP stores one flooding measurement.
func (s *Store) AppendLSP(m models.LSPFloodingMeasurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.lsp = append(s.lsp, m)
	s.trimLocked()
	s.mAppended.Inc(1, "lsp")
}

func (s *Store) trimLocked() {
	if s.cap <= 0 {
		return
	}
	trim := func(n int) int {
		if n <= s.cap {
			return 0
		}
		return n - s.cap
	}
	if d := trim(len(s.convergence)); d > 0 {
		s.convergence = s.convergence[d:]
		s.dropped += d
	}
	if d := trim(len(s.packetLoss)); d > 0 {
		s.packetLoss = s.packetLoss[d:]
		s.dropped += d
	}
	if d := trim(len(s.interruptions)); d > 0 {
		s.interruptions = s.interruptions[d:]
		s.dropped += d
	}
	if d := trim(len(s.spf)); d > 0 {
		s.spf = s.spf[d:]
		s.dropped += d
	}
	if d := trim(len(s.lsp)); d > 0 {
		s.lsp = s.lsp[d:]
		s.dropped += d
	}
}

// Counts returns collection sizes.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Convergence:   len(s.convergence),
		PacketLoss:    len(s.packetLoss),
		Interruptions: len(s.interruptions),
		SPF:           len(s.spf),
		LSP:           len(s.lsp),
		Dropped:       s.dropped,
	}
}

// Convergence returns a snapshot copy in insertion order.
func (s *Store) Convergence() []models.ConvergenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConvergenceRecord, len(s.convergence))
	copy(out, s.convergence)
	return out
}

// PacketLoss returns a snapshot copy in insertion order.
func (s *Store) PacketLoss() []models.PacketLossRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PacketLossRecord, len(s.packetLoss))
	copy(out, s.packetLoss)
	return out
}

// Interruptions returns a snapshot copy in insertion order.
func (s *Store) Interruptions() []models.InterruptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.InterruptionRecord, len(s.interruptions))
	copy(out, s.interruptions)
	return out
}

// SPF returns a snapshot copy in insertion order.
func (s *Store) SPF() []models.SPFEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SPFEvent, len(s.spf))
	copy(out, s.spf)
	return out
}

// LSP returns a snapshot copy in insertion order.
func (s *Store) LSP() []models.LSPFloodingMeasurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LSPFloodingMeasurement, len(s.lsp))
	copy(out, s.lsp)
	return out
}
