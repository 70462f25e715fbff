// Package suppression decides per row whether the source redacted the record.
package suppression

import (
	"strings"

	"github.com/wonny/edukpi/internal/contracts"
)

// DefaultRedactionMarkers are the cell values the authority uses for redacted cells.
var DefaultRedactionMarkers = []string{"*", "**", "***", "---", "<10", "n<10"}

// DefaultFalseValues never mark a row as suppressed when found in the flag field.
var DefaultFalseValues = []string{"N", "NO", "0", "FALSE"}

// Rules describes one family's suppression convention.
type Rules struct {
	FlagField            string   `yaml:"flag_field,omitempty" json:"flag_field,omitempty"`
	FlagValues           []string `yaml:"flag_values,omitempty" json:"flag_values,omitempty"`
	FalseValues          []string `yaml:"false_values,omitempty" json:"false_values,omitempty"`
	RedactionMarkers     []string `yaml:"redaction_markers,omitempty" json:"redaction_markers,omitempty"`
	BlankMeansSuppressed bool     `yaml:"blank_means_suppressed,omitempty" json:"blank_means_suppressed,omitempty"`
}

// Detector flags suppressed rows
type Detector struct {
	flagField    string
	flagValues   map[string]struct{}
	falseValues  map[string]struct{}
	markers      map[string]struct{}
	blankIsSupp  bool
	metricFields []string
}

// NewDetector builds a detector for the given rules. metricFields are the
// canonical fields supporting the family's metrics (numerators and denominators).
func NewDetector(rules Rules, metricFields []string) *Detector {
	markers := rules.RedactionMarkers
	if markers == nil {
		markers = DefaultRedactionMarkers
	}
	falseValues := rules.FalseValues
	if falseValues == nil {
		falseValues = DefaultFalseValues
	}
	return &Detector{
		flagField:    rules.FlagField,
		flagValues:   toSet(rules.FlagValues),
		falseValues:  toSet(falseValues),
		markers:      toSet(markers),
		blankIsSupp:  rules.BlankMeansSuppressed,
		metricFields: metricFields,
	}
}

// Suppressed reports whether the row is privacy-suppressed or non-reportable.
func (d *Detector) Suppressed(row contracts.CanonicalRow) bool {
	return d.flagged(row) || d.redacted(row)
}

// IsMarker reports whether a cell value is a redaction marker.
func (d *Detector) IsMarker(v string) bool {
	_, ok := d.markers[key(v)]
	return ok
}

// flagged checks the designated suppression-flag field.
func (d *Detector) flagged(row contracts.CanonicalRow) bool {
	if d.flagField == "" {
		return false
	}
	v, ok := row.Get(d.flagField)
	if !ok {
		return false
	}
	k := key(v)
	if len(d.flagValues) > 0 {
		_, hit := d.flagValues[k]
		return hit
	}
	// any non-empty sentinel other than an explicit "no"
	_, no := d.falseValues[k]
	return !no
}

// redacted checks whether every metric-supporting field is blank or a marker.
func (d *Detector) redacted(row contracts.CanonicalRow) bool {
	if len(d.metricFields) == 0 {
		return false
	}
	sawMarker := false
	for _, f := range d.metricFields {
		v, ok := row.Get(f)
		if !ok {
			continue
		}
		if !d.IsMarker(v) {
			return false
		}
		sawMarker = true
	}
	return sawMarker || d.blankIsSupp
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[key(v)] = struct{}{}
	}
	return set
}

func key(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
