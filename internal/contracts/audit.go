package contracts

import (
	"sort"
	"strings"
)

// Finding kinds written to the demographic audit artifact
const (
	FindingMissingRequired = "missing_required"
	FindingUnexpected      = "unexpected"
)

// DemographicAuditEntry records the demographic coverage of one (family, year).
// ⭐ SSOT: produced once per year per family, never mutated afterwards
type DemographicAuditEntry struct {
	Family          string   `json:"family"`
	Year            int      `json:"year"`
	Observed        []string `json:"observed"`
	MissingRequired []string `json:"missing_required"`
	Unexpected      []string `json:"unexpected"`
}

// HasFindings reports whether the entry carries any mismatch
func (e DemographicAuditEntry) HasFindings() bool {
	return len(e.MissingRequired) > 0 || len(e.Unexpected) > 0
}

// DemographicFinding is one row of the audit artifact
type DemographicFinding struct {
	Family         string `json:"family"`
	Year           int    `json:"year"`
	Kind           string `json:"finding"`
	Label          string `json:"label"`
	ObservedLabels string `json:"observed_labels"`
}

// Findings flattens the entry into one record per (family, year, finding).
func (e DemographicAuditEntry) Findings() []DemographicFinding {
	observed := append([]string(nil), e.Observed...)
	sort.Strings(observed)
	joined := strings.Join(observed, "|")

	out := make([]DemographicFinding, 0, len(e.MissingRequired)+len(e.Unexpected))
	for _, label := range e.MissingRequired {
		out = append(out, DemographicFinding{
			Family:         e.Family,
			Year:           e.Year,
			Kind:           FindingMissingRequired,
			Label:          label,
			ObservedLabels: joined,
		})
	}
	for _, label := range e.Unexpected {
		out = append(out, DemographicFinding{
			Family:         e.Family,
			Year:           e.Year,
			Kind:           FindingUnexpected,
			Label:          label,
			ObservedLabels: joined,
		})
	}
	return out
}
