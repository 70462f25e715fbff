package familyconfig

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/schema"
)

// ValidationError fails the run at load time
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning is a recommended-practice violation (non-fatal)
type Warning struct {
	Code    string
	Message string
}

var (
	metricNameRe = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*_(rate|count|total|score|cohort)$`)
	familyKeyRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	columnNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	structValidator = newStructValidator()

	// output file stems of run-level artifacts
	reservedFamilies = map[string]bool{
		"master_kpi":        true,
		"demographic_audit": true,
		"run_summary":       true,
	}
)

func newStructValidator() *validator.Validate {
	v := validator.New()

	// Report YAML key names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// Validate checks all required constraints.
// Struct tags first, then cross references between sections.
func Validate(cfg *Config) error {
	if err := validateStruct(cfg); err != nil {
		return err
	}

	if !familyKeyRe.MatchString(cfg.Family) {
		return ValidationError{"family", "must be lowercase letters, digits, '_' or '-'"}
	}
	if reservedFamilies[cfg.Family] || strings.HasSuffix(cfg.Family, "_demographic_audit") {
		return ValidationError{"family", fmt.Sprintf("%q is reserved for run artifacts", cfg.Family)}
	}

	// === Fields ===
	declared := make(map[string]struct{}, len(cfg.Fields))
	aliasOwner := make(map[string]string)
	for i, f := range cfg.Fields {
		if _, dup := declared[f.Name]; dup {
			return ValidationError{fmt.Sprintf("fields[%d].name", i), fmt.Sprintf("duplicate field %q", f.Name)}
		}
		declared[f.Name] = struct{}{}

		for _, a := range append([]string{f.Name}, f.Aliases...) {
			key := schema.Normalize(a)
			if owner, taken := aliasOwner[key]; taken && owner != f.Name {
				return ValidationError{fmt.Sprintf("fields[%d].aliases", i), fmt.Sprintf("%q already maps to %q", a, owner)}
			}
			aliasOwner[key] = f.Name
		}
	}

	for field, setting := range cfg.referencedFields() {
		if _, ok := declared[field]; !ok {
			return ValidationError{setting, fmt.Sprintf("field %q is not declared in fields", field)}
		}
	}

	// === Year ===
	if _, err := cfg.YearPattern(); err != nil {
		return ValidationError{"year.filename_pattern", err.Error()}
	}

	// === Files ===
	for i, p := range cfg.FilePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return ValidationError{fmt.Sprintf("file_patterns[%d]", i), err.Error()}
		}
	}

	// === Context ===
	columns := make(map[string]struct{})
	for _, c := range contracts.FixedColumns {
		columns[c] = struct{}{}
	}
	for i, cc := range cfg.Context {
		if !columnNameRe.MatchString(cc.Column) {
			return ValidationError{fmt.Sprintf("context[%d].column", i), "must be lowercase letters, digits or '_'"}
		}
		if _, dup := columns[cc.Column]; dup {
			return ValidationError{fmt.Sprintf("context[%d].column", i), fmt.Sprintf("column %q is already used", cc.Column)}
		}
		columns[cc.Column] = struct{}{}
	}

	// === Metrics ===
	names := make(map[string]struct{}, len(cfg.Metrics))
	for i, m := range cfg.Metrics {
		field := fmt.Sprintf("metrics[%d]", i)

		if !metricNameRe.MatchString(m.Name) {
			return ValidationError{field + ".name", fmt.Sprintf("%q must match {indicator}_{kind} with kind in %s", m.Name, strings.Join(contracts.MetricKinds, ", "))}
		}
		if _, dup := names[m.Name]; dup {
			return ValidationError{field + ".name", fmt.Sprintf("duplicate metric %q", m.Name)}
		}
		names[m.Name] = struct{}{}

		if m.Denominator != "" && m.Kind() != "rate" {
			return ValidationError{field + ".denominator", "only rate metrics may declare a denominator"}
		}
		if m.Denominator == m.Field && m.Denominator != "" {
			return ValidationError{field + ".denominator", "must differ from field"}
		}
		if m.Scale < 0 {
			return ValidationError{field + ".scale", "must be >= 0"}
		}
		if m.Min != nil && m.Max != nil && *m.Min > *m.Max {
			return ValidationError{field, "min must be <= max"}
		}
	}

	// === Demographics ===
	for y := range cfg.Demographics.ByYear {
		if y < 1900 || y > 2100 {
			return ValidationError{"demographics.by_year", fmt.Sprintf("%d is not a plausible year", y)}
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	if cfg.Year.Field == "" {
		warnings = append(warnings, Warning{
			Code:    "FILENAME_YEAR_ONLY",
			Message: "no year field: every file must carry a year in its name",
		})
	}

	hasRequirements := !cfg.Demographics.Default.Empty() || len(cfg.Demographics.ByYear) > 0
	if cfg.Demographics.Field == "" && hasRequirements {
		warnings = append(warnings, Warning{
			Code:    "REQUIREMENTS_WITHOUT_FIELD",
			Message: "demographic requirement sets are declared but demographics.field is empty",
		})
	}
	if cfg.Demographics.Field != "" && !hasRequirements {
		warnings = append(warnings, Warning{
			Code:    "NO_DEMOGRAPHIC_REQUIREMENTS",
			Message: "demographic labels are read but never audited",
		})
	}

	if cfg.Suppression.FlagField == "" && len(cfg.Suppression.RedactionMarkers) == 0 {
		warnings = append(warnings, Warning{
			Code:    "DEFAULT_SUPPRESSION",
			Message: "no flag field or markers configured: default redaction markers apply",
		})
	}

	refs := cfg.referencedFields()
	for _, f := range cfg.Fields {
		if _, used := refs[f.Name]; !used {
			warnings = append(warnings, Warning{
				Code:    "UNUSED_FIELD",
				Message: fmt.Sprintf("field %q is mapped but not used by any role or metric", f.Name),
			})
		}
	}

	return warnings
}

// validateStruct runs tag validation and converts the first failure
func validateStruct(cfg *Config) error {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	// drop the root struct name from the namespace
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ValidationError{ns, describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " character"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
