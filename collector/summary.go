package collector

import (
	"fmt"
	"io"

	"orrery/collector/models"
)

// Summary aggregates all collected metrics. Field names mirror the export
// artifact consumed by the offline analysis tools.
type Summary struct {
	TotalHandovers       int     `json:"total_handovers"`
	AvgConvergenceS      float64 `json:"avg_convergence_s"`
	MaxConvergenceS      float64 `json:"max_convergence_s"`
	MinConvergenceS      float64 `json:"min_convergence_s"`
	AvgPacketLossPct     float64 `json:"avg_packet_loss_pct"`
	AvgInterruptionS     float64 `json:"avg_interruption_s"`
	MaxInterruptionS     float64 `json:"max_interruption_s"`
	TotalSPFEvents       int     `json:"total_spf_events"`
	AvgSPFDurationMs     float64 `json:"avg_spf_duration_ms"`
	TotalLSPMeasurements int     `json:"total_lsp_measurements"`
	AvgLSPPropagationS   float64 `json:"avg_lsp_propagation_s"`
	CollectionDurationS  float64 `json:"collection_duration_s"`
}

// Summarize aggregates record collections deterministically, so a summary
// recomputed from an exported artifact matches the live one.
func Summarize(
	conv []models.ConvergenceRecord,
	loss []models.PacketLossRecord,
	inter []models.InterruptionRecord,
	spf []models.SPFEvent,
	lsp []models.LSPFloodingMeasurement,
	collectionDurationS float64,
) Summary {
	s := Summary{CollectionDurationS: collectionDurationS}

	s.TotalHandovers = len(conv)
	if len(conv) > 0 {
		sum, min, max := 0.0, conv[0].ConvergenceS, conv[0].ConvergenceS
		for _, e := range conv {
			sum += e.ConvergenceS
			if e.ConvergenceS < min {
				min = e.ConvergenceS
			}
			if e.ConvergenceS > max {
				max = e.ConvergenceS
			}
		}
		s.AvgConvergenceS = round3(sum / float64(len(conv)))
		s.MinConvergenceS = round3(min)
		s.MaxConvergenceS = round3(max)
	}

	if len(loss) > 0 {
		sum := 0.0
		for _, e := range loss {
			sum += e.LossPct
		}
		s.AvgPacketLossPct = round1(sum / float64(len(loss)))
	}

	if len(inter) > 0 {
		sum, max := 0.0, inter[0].InterruptionS
		for _, e := range inter {
			sum += e.InterruptionS
			if e.InterruptionS > max {
				max = e.InterruptionS
			}
		}
		s.AvgInterruptionS = round3(sum / float64(len(inter)))
		s.MaxInterruptionS = round3(max)
	}

	s.TotalSPFEvents = len(spf)
	if len(spf) > 0 {
		sum := 0.0
		for _, e := range spf {
			sum += e.DurationMs
		}
		s.AvgSPFDurationMs = round2(sum / float64(len(spf)))
	}

	s.TotalLSPMeasurements = len(lsp)
	if len(lsp) > 0 {
		// Per-measurement mean over nodes that had the sequence, then the
		// mean of those means; measurements nothing had received yet are
		// left out entirely.
		var perMeasurement []float64
		for _, m := range lsp {
			sum, n := 0.0, 0
			for _, v := range m.Propagation {
				if v >= 0 {
					sum += v
					n++
				}
			}
			if n > 0 {
				perMeasurement = append(perMeasurement, sum/float64(n))
			}
		}
		if len(perMeasurement) > 0 {
			sum := 0.0
			for _, v := range perMeasurement {
				sum += v
			}
			s.AvgLSPPropagationS = round3(sum / float64(len(perMeasurement)))
		}
	}

	return s
}

// WriteSummary renders the human-readable summary block.
func WriteSummary(w io.Writer, s Summary) {
	line := func(format string, args ...any) { fmt.Fprintf(w, format+"\n", args...) }
	rule := "============================================================"
	line(rule)
	line("ROUTING METRICS SUMMARY")
	line(rule)
	line("Collection duration:       %.0fs", s.CollectionDurationS)
	line("Total handovers measured:  %d", s.TotalHandovers)
	line("")
	if s.TotalHandovers > 0 {
		line("-- Convergence Time --")
		line("  Average: %.3fs", s.AvgConvergenceS)
		line("  Min:     %.3fs", s.MinConvergenceS)
		line("  Max:     %.3fs", s.MaxConvergenceS)
		line("")
		line("-- Packet Loss --")
		line("  Average loss: %.1f%%", s.AvgPacketLossPct)
		line("")
		line("-- Service Interruption --")
		line("  Average: %.3fs", s.AvgInterruptionS)
		line("  Max:     %.3fs", s.MaxInterruptionS)
	} else {
		line("  No handover events measured yet.")
	}
	line("")
	line("-- SPF Computations --")
	line("  Total events: %d", s.TotalSPFEvents)
	if s.TotalSPFEvents > 0 {
		line("  Avg duration: %.2fms", s.AvgSPFDurationMs)
	}
	line("")
	line("-- LSP Flooding --")
	line("  Measurements: %d", s.TotalLSPMeasurements)
	if s.TotalLSPMeasurements > 0 {
		line("  Avg propagation: %.3fs", s.AvgLSPPropagationS)
	}
	line(rule)
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }
func round3(v float64) float64 { return roundTo(v, 1000) }

func roundTo(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
