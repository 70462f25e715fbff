// Package familyconfig holds the per-family YAML configuration the engine
// treats as data: schema mapping, roles, suppression, metrics and
// demographic requirement sets. No family has code of its own.
package familyconfig

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/demographics"
	"github.com/wonny/edukpi/internal/schema"
	"github.com/wonny/edukpi/internal/suppression"
	"github.com/wonny/edukpi/internal/year"
)

// DefaultFilePatterns are matched when a family declares none
var DefaultFilePatterns = []string{"*.csv", "*.txt", "*.tsv", "*.xlsx"}

// Config is one indicator family
type Config struct {
	Family       string                       `yaml:"family" json:"family" validate:"required"`
	Description  string                       `yaml:"description,omitempty" json:"description,omitempty"`
	Directory    string                       `yaml:"directory,omitempty" json:"directory,omitempty"`         // relative to the input root, default = family
	FilePatterns []string                     `yaml:"file_patterns,omitempty" json:"file_patterns,omitempty"` // glob patterns
	Delimiter    string                       `yaml:"delimiter,omitempty" json:"delimiter,omitempty" validate:"omitempty,len=1"`
	Sheet        string                       `yaml:"sheet,omitempty" json:"sheet,omitempty"` // xlsx only, default = first sheet
	Fields       []schema.Field               `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	Entity       Entity                       `yaml:"entity" json:"entity"`
	Year         Year                         `yaml:"year" json:"year"`
	Context      []ContextColumn              `yaml:"context,omitempty" json:"context,omitempty" validate:"dive"`
	Suppression  suppression.Rules            `yaml:"suppression,omitempty" json:"suppression,omitempty"`
	Demographics demographics.Requirements    `yaml:"demographics,omitempty" json:"demographics,omitempty"`
	Metrics      []contracts.MetricDefinition `yaml:"metrics" json:"metrics" validate:"required,min=1,dive"`
}

// Entity names the identifier and display-name fields
type Entity struct {
	IDField   string `yaml:"id_field" json:"id_field" validate:"required"`
	NameField string `yaml:"name_field,omitempty" json:"name_field,omitempty"`
}

// Year names the row-level year field and the filename fallback pattern
type Year struct {
	Field           string `yaml:"field,omitempty" json:"field,omitempty"`
	FilenamePattern string `yaml:"filename_pattern,omitempty" json:"filename_pattern,omitempty"`
}

// ContextColumn copies a canonical field into an output column
type ContextColumn struct {
	Field  string `yaml:"field" json:"field" validate:"required"`
	Column string `yaml:"column,omitempty" json:"column,omitempty"` // default = field
}

// applyDefaults fills optional settings in place
func (c *Config) applyDefaults() {
	if c.Directory == "" {
		c.Directory = c.Family
	}
	if len(c.FilePatterns) == 0 {
		c.FilePatterns = append([]string(nil), DefaultFilePatterns...)
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
	for i := range c.Context {
		if c.Context[i].Column == "" {
			c.Context[i].Column = c.Context[i].Field
		}
	}
}

// InputDir returns the family's raw file directory under root
func (c *Config) InputDir(root string) string {
	return filepath.Join(root, c.Directory)
}

// DelimiterRune returns the field delimiter of delimited text sources
func (c *Config) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}

// YearPattern returns the compiled filename year pattern
func (c *Config) YearPattern() (*regexp.Regexp, error) {
	if c.Year.FilenamePattern == "" {
		return year.DefaultFilenamePattern, nil
	}
	return regexp.Compile(c.Year.FilenamePattern)
}

// MetricFields returns every field supporting a metric (numerators and
// denominators), first-reference order, without duplicates.
func (c *Config) MetricFields() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(f string) {
		if f == "" {
			return
		}
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	for _, m := range c.Metrics {
		add(m.Field)
		add(m.Denominator)
	}
	return out
}

// ContextColumns returns the output names of context columns, in order
func (c *Config) ContextColumns() []string {
	out := make([]string, 0, len(c.Context))
	for _, cc := range c.Context {
		out = append(out, cc.Column)
	}
	return out
}

// referencedFields maps each role-referenced field to the setting naming it
func (c *Config) referencedFields() map[string]string {
	refs := map[string]string{
		c.Entity.IDField: "entity.id_field",
	}
	if c.Entity.NameField != "" {
		refs[c.Entity.NameField] = "entity.name_field"
	}
	if c.Year.Field != "" {
		refs[c.Year.Field] = "year.field"
	}
	if c.Demographics.Field != "" {
		refs[c.Demographics.Field] = "demographics.field"
	}
	if c.Suppression.FlagField != "" {
		refs[c.Suppression.FlagField] = "suppression.flag_field"
	}
	for i, cc := range c.Context {
		refs[cc.Field] = fmt.Sprintf("context[%d].field", i)
	}
	for i, m := range c.Metrics {
		refs[m.Field] = fmt.Sprintf("metrics[%d].field", i)
		if m.Denominator != "" {
			refs[m.Denominator] = fmt.Sprintf("metrics[%d].denominator", i)
		}
	}
	return refs
}
