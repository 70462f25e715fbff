package contracts

import (
	"math"
	"strconv"
	"strings"
)

// NotApplicable is the explicit marker written for suppressed or
// not-applicable values and for context cells a table does not carry.
const NotApplicable = "NA"

// MetricKinds lists the allowed metric name suffixes.
var MetricKinds = []string{"rate", "count", "total", "score", "cohort"}

// SourceFile is a single raw tabular extract.
// ⭐ SSOT: discovered once at run start, never mutated
type SourceFile struct {
	Family    string `json:"family"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	YearToken string `json:"year_token,omitempty"` // filename-embedded token
}

// Cell is one canonical field value of a row.
type Cell struct {
	Value string
	Null  bool
}

// CanonicalRow is a raw row after schema mapping.
// Every canonical field declared for the family is present as a key.
type CanonicalRow struct {
	Line   int
	Fields map[string]Cell
}

// Get returns the trimmed value of field and whether it is non-null.
func (r CanonicalRow) Get(field string) (string, bool) {
	c, ok := r.Fields[field]
	if !ok || c.Null {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}

// Has reports whether field is a key of the row (null or not).
func (r CanonicalRow) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// MetricDefinition maps a canonical field to a named metric.
// Owned by family configuration; the engine never invents one.
type MetricDefinition struct {
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Field       string   `yaml:"field" json:"field" validate:"required"`
	Denominator string   `yaml:"denominator,omitempty" json:"denominator,omitempty"`
	Scale       float64  `yaml:"scale,omitempty" json:"scale,omitempty"` // rate multiplier, default 100
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Decimals    *int     `yaml:"decimals,omitempty" json:"decimals,omitempty" validate:"omitempty,min=0,max=10"`
}

// Kind returns the `{indicator}_{kind}` suffix of the metric name.
func (d MetricDefinition) Kind() string {
	i := strings.LastIndex(d.Name, "_")
	if i < 0 {
		return ""
	}
	return d.Name[i+1:]
}

// Indicator returns the `{indicator}` prefix of the metric name.
func (d MetricDefinition) Indicator() string {
	i := strings.LastIndex(d.Name, "_")
	if i < 0 {
		return d.Name
	}
	return d.Name[:i]
}

// IsRatio reports whether the metric is computed over a denominator field.
func (d MetricDefinition) IsRatio() bool {
	return d.Denominator != ""
}

// Bounds returns the plausible range for the metric.
// Rates default to [0,100]; counts, totals and cohorts to [0,+Inf).
func (d MetricDefinition) Bounds() (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	switch d.Kind() {
	case "rate":
		lo, hi = 0, 100
	case "count", "total", "cohort":
		lo = 0
	}
	if d.Min != nil {
		lo = *d.Min
	}
	if d.Max != nil {
		hi = *d.Max
	}
	return lo, hi
}

// IsValidMetricKind checks a metric kind suffix
func IsValidMetricKind(kind string) bool {
	for _, k := range MetricKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Value is a metric value or the explicit not-applicable marker.
type Value struct {
	Number float64
	Valid  bool
}

// Number wraps a numeric value
func Number(v float64) Value {
	return Value{Number: v, Valid: true}
}

// NA returns the not-applicable value
func NA() Value {
	return Value{}
}

// String renders the value deterministically.
func (v Value) String() string {
	if !v.Valid {
		return NotApplicable
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// ParseValue is the inverse of Value.String.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == NotApplicable {
		return NA(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NA(), err
	}
	return Number(f), nil
}

// MetricValue is one (metric_name, value) pair of a row.
type MetricValue struct {
	Metric string
	Value  Value
}

// KPIRow is the canonical output unit.
// (EntityID, Year, Group, Metric) is unique within one family table.
type KPIRow struct {
	Year       int
	Metric     string
	EntityID   string // integer-rendered when numeric
	EntityName string
	Group      string
	Value      Value
	Context    map[string]string
}

// Key returns the uniqueness key of the row.
func (r KPIRow) Key() string {
	return strconv.Itoa(r.Year) + "\x1f" + r.Metric + "\x1f" + r.EntityID + "\x1f" + r.Group
}

// ContextValue returns the context cell or the NA marker.
func (r KPIRow) ContextValue(column string) string {
	if v, ok := r.Context[column]; ok {
		return v
	}
	return NotApplicable
}

// Table is a per-family or master output table.
type Table struct {
	Family         string
	ContextColumns []string
	Rows           []KPIRow
}

// FixedColumns is the fixed column order of every output table.
var FixedColumns = []string{"year", "metric", "entity_id", "entity_name", "demographic_group", "value"}
