package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"orrery/collector/models"
)

// ExportMetadata describes one export artifact.
type ExportMetadata struct {
	ExportTime          string  `json:"export_time"`
	RunID               string  `json:"run_id"`
	CollectionDurationS float64 `json:"collection_duration_s"`
}

// Export is the self-describing artifact written on demand: metadata, the
// aggregate summary, and every raw record in insertion order.
type Export struct {
	Metadata             ExportMetadata                  `json:"metadata"`
	Summary              Summary                         `json:"summary"`
	ConvergenceEvents    []models.ConvergenceRecord      `json:"convergence_events"`
	PacketLossEvents     []models.PacketLossRecord       `json:"packet_loss_events"`
	ServiceInterruptions []models.InterruptionRecord     `json:"service_interruptions"`
	SPFEvents            []models.SPFEvent               `json:"spf_events"`
	LSPMeasurements      []models.LSPFloodingMeasurement `json:"lsp_measurements"`
}

// Resummarize recomputes the summary from the artifact's raw records. A
// freshly loaded artifact yields the summary it was written with.
func (e *Export) Resummarize() Summary {
	return Summarize(e.ConvergenceEvents, e.PacketLossEvents, e.ServiceInterruptions, e.SPFEvents, e.LSPMeasurements, e.Metadata.CollectionDurationS)
}

// DefaultExportPath renders the timestamped default artifact filename.
func DefaultExportPath(now time.Time) string {
	return fmt.Sprintf("isis_metrics_%s.json", now.Format("2006-01-02T15-04-05"))
}

// buildExport snapshots the store into an artifact document.
func (c *Collector) buildExport() Export {
	c.mu.Lock()
	st := c.store
	runID := c.runID
	c.mu.Unlock()
	dur := c.collectionDuration()
	conv := st.Convergence()
	loss := st.PacketLoss()
	inter := st.Interruptions()
	spf := st.SPF()
	lsp := st.LSP()
	return Export{
		Metadata: ExportMetadata{
			ExportTime:          c.wall.Now().Format(time.RFC3339),
			RunID:               runID,
			CollectionDurationS: dur,
		},
		Summary:              Summarize(conv, loss, inter, spf, lsp, dur),
		ConvergenceEvents:    conv,
		PacketLossEvents:     loss,
		ServiceInterruptions: inter,
		SPFEvents:            spf,
		LSPMeasurements:      lsp,
	}
}

// ExportJSON writes the artifact. An empty path picks the timestamped
// default in the working directory. Returns the path written.
func (c *Collector) ExportJSON(path string) (string, error) {
	if path == "" {
		path = DefaultExportPath(c.wall.Now())
	}
	doc := c.buildExport()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	c.log.Info("metrics exported", "path", path, "run_id", doc.Metadata.RunID)
	return path, nil
}

// LoadExport reads an artifact back, e.g. for offline re-aggregation.
func LoadExport(path string) (*Export, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Export
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse export %s: %w", path, err)
	}
	return &doc, nil
}

// newRunID tags one collection run.
func newRunID() string { return uuid.NewString() }
