package contracts

// Pipeline Stage definitions (SSOT)
// Skip records and stage-level log lines carry these constants.
//
// Flow:
//   ingest → mapping → year → suppression → extract → demographics → assemble → aggregate

// Stage represents a pipeline stage
type Stage string

const (
	// StageIngest discovers and reads raw source files.
	// Location: internal/source/
	StageIngest Stage = "INGEST"

	// StageSchemaMapping maps raw header spellings to canonical fields.
	// Location: internal/schema/
	StageSchemaMapping Stage = "SCHEMA_MAPPING"

	// StageYearResolution derives the canonical 4-digit year.
	// Location: internal/year/
	StageYearResolution Stage = "YEAR_RESOLUTION"

	// StageSuppression flags privacy-suppressed rows.
	// Location: internal/suppression/
	StageSuppression Stage = "SUPPRESSION"

	// StageExtraction emits declared metrics from canonical rows.
	// Location: internal/extract/
	StageExtraction Stage = "EXTRACTION"

	// StageDemographics audits observed demographic labels per year.
	// Location: internal/demographics/
	StageDemographics Stage = "DEMOGRAPHICS"

	// StageAssembly builds fixed-column KPI rows.
	// Location: internal/assemble/
	StageAssembly Stage = "ASSEMBLY"

	// StageAggregation merges per-family tables into the master table.
	// Location: internal/aggregate/
	StageAggregation Stage = "AGGREGATION"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// Description returns a human readable description of the stage
func (s Stage) Description() string {
	switch s {
	case StageIngest:
		return "file ingest"
	case StageSchemaMapping:
		return "schema mapping"
	case StageYearResolution:
		return "year resolution"
	case StageSuppression:
		return "suppression detection"
	case StageExtraction:
		return "metric extraction"
	case StageDemographics:
		return "demographic audit"
	case StageAssembly:
		return "row assembly"
	case StageAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageIngest,
		StageSchemaMapping,
		StageYearResolution,
		StageSuppression,
		StageExtraction,
		StageDemographics,
		StageAssembly,
		StageAggregation,
	}
}
