package pipeline

import (
	"time"

	"github.com/wonny/edukpi/internal/contracts"
)

// RunSummary is the run_summary.json document
type RunSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMs int64           `json:"duration_ms"`
	MasterRows int             `json:"master_rows"`
	Partial    bool            `json:"partial"`
	Families   []FamilySummary `json:"families"`
}

// FamilySummary reports one family of the run
type FamilySummary struct {
	Family          string                         `json:"family"`
	ConfigHash      string                         `json:"config_hash"`
	FilesDiscovered int                            `json:"files_discovered"`
	FilesProcessed  int                            `json:"files_processed"`
	Skipped         []SkippedFile                  `json:"skipped"`
	RowsRead        int                            `json:"rows_read"`
	KPIRows         int                            `json:"kpi_rows"`
	SuppressedRows  int                            `json:"suppressed_rows"`
	MissingEntity   int                            `json:"missing_entity_rows"`
	Duplicates      int                            `json:"duplicate_rows"`
	OutOfBound      int64                          `json:"out_of_bound_values"`
	Unparseable     int64                          `json:"unparseable_values"`
	Findings        []contracts.DemographicFinding `json:"demographic_findings"`
	DurationMs      int64                          `json:"duration_ms"`
}

// Summary builds the run summary
func (r *Result) Summary() RunSummary {
	s := RunSummary{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		MasterRows: len(r.Master.Rows),
		Partial:    r.Partial,
		Families:   make([]FamilySummary, 0, len(r.Families)),
	}

	for _, fr := range r.Families {
		findings := []contracts.DemographicFinding{}
		for _, e := range fr.Audit {
			findings = append(findings, e.Findings()...)
		}
		s.Families = append(s.Families, FamilySummary{
			Family:          fr.Family,
			ConfigHash:      fr.ConfigHash,
			FilesDiscovered: fr.FilesDiscovered,
			FilesProcessed:  fr.FilesProcessed,
			Skipped:         fr.Skipped,
			RowsRead:        fr.RowsRead,
			KPIRows:         len(fr.Table.Rows),
			SuppressedRows:  fr.SuppressedRows,
			MissingEntity:   fr.MissingEntity,
			Duplicates:      fr.Duplicates,
			OutOfBound:      fr.OutOfBound,
			Unparseable:     fr.Unparseable,
			Findings:        findings,
			DurationMs:      fr.Duration.Milliseconds(),
		})
	}
	return s
}

// FindingCount returns the number of demographic findings of the run
func (r *Result) FindingCount() int {
	n := 0
	for _, e := range r.Audit {
		n += len(e.Findings())
	}
	return n
}
