// Package demographics audits which demographic group labels a family's
// source files carry each year against the configured requirement sets.
package demographics

import (
	"sort"
	"strings"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/pkg/logger"
)

// DefaultGroupLabel is used when a family has no demographic field.
const DefaultGroupLabel = "All Students"

// LabelSet is the allow-list in force for a range of years.
type LabelSet struct {
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Empty reports whether the set declares no label at all.
func (s LabelSet) Empty() bool {
	return len(s.Required) == 0 && len(s.Optional) == 0
}

// Requirements is a family's demographic configuration.
// ByYear keys are the first year a set applies to.
type Requirements struct {
	Field        string           `yaml:"field,omitempty" json:"field,omitempty"`
	DefaultGroup string           `yaml:"default_group,omitempty" json:"default_group,omitempty"`
	Default      LabelSet         `yaml:"default,omitempty" json:"default,omitempty"`
	ByYear       map[int]LabelSet `yaml:"by_year,omitempty" json:"by_year,omitempty"`
}

// GroupLabel returns the label used for rows without a demographic field.
func (r Requirements) GroupLabel() string {
	if r.DefaultGroup != "" {
		return r.DefaultGroup
	}
	return DefaultGroupLabel
}

// ForYear returns the set with the greatest configured year <= y, else Default.
func (r Requirements) ForYear(y int) LabelSet {
	best, found := 0, false
	for from := range r.ByYear {
		if from <= y && (!found || from > best) {
			best, found = from, true
		}
	}
	if found {
		return r.ByYear[best]
	}
	return r.Default
}

// Auditor compares observed labels with the requirement set for each year.
// Findings never filter or alter rows.
type Auditor struct {
	family string
	req    Requirements
	log    *logger.Logger
}

// NewAuditor creates an auditor for one family
func NewAuditor(family string, req Requirements, log *logger.Logger) *Auditor {
	return &Auditor{
		family: family,
		req:    req,
		log:    log.WithFields(map[string]interface{}{"module": "demographics", "family": family}),
	}
}

// Audit builds the audit entry for one year. Observed labels keep their
// source spelling; missing labels keep the configured spelling.
func (a *Auditor) Audit(year int, observed []string) contracts.DemographicAuditEntry {
	entry := contracts.DemographicAuditEntry{
		Family:          a.family,
		Year:            year,
		Observed:        dedupe(observed),
		MissingRequired: []string{},
		Unexpected:      []string{},
	}

	set := a.req.ForYear(year)
	if set.Empty() {
		return entry
	}

	seen := make(map[string]struct{}, len(entry.Observed))
	for _, label := range entry.Observed {
		seen[NormalizeLabel(label)] = struct{}{}
	}

	allowed := make(map[string]struct{}, len(set.Required)+len(set.Optional))
	for _, label := range set.Required {
		k := NormalizeLabel(label)
		allowed[k] = struct{}{}
		if _, ok := seen[k]; !ok {
			entry.MissingRequired = append(entry.MissingRequired, label)
		}
	}
	for _, label := range set.Optional {
		allowed[NormalizeLabel(label)] = struct{}{}
	}

	for _, label := range entry.Observed {
		if _, ok := allowed[NormalizeLabel(label)]; !ok {
			entry.Unexpected = append(entry.Unexpected, label)
		}
	}

	sort.Strings(entry.MissingRequired)
	sort.Strings(entry.Unexpected)

	if entry.HasFindings() {
		a.log.WithFields(map[string]interface{}{
			"year":             year,
			"missing_required": entry.MissingRequired,
			"unexpected":       entry.Unexpected,
		}).Warn("demographic coverage mismatch")
	}

	return entry
}

// NormalizeLabel trims, collapses internal whitespace and lowercases a label.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// dedupe keeps the first spelling of each normalized label, sorted.
func dedupe(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			continue
		}
		k := NormalizeLabel(l)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
