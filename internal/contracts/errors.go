package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Per-file conditions are recovered by the family runner;
// aggregation and configuration conditions are fatal.
var (
	ErrMissingRequiredColumn   = errors.New("missing required column")
	ErrEmptyOrUnreadableFile   = errors.New("empty or unreadable file")
	ErrYearResolution          = errors.New("year resolution failure")
	ErrMissingEntity           = errors.New("missing entity identifier")
	ErrAggregationTypeConflict = errors.New("aggregation type conflict")
)

// MissingRequiredColumnError lists the required canonical fields no raw column matched.
type MissingRequiredColumnError struct {
	Fields []string
}

func (e *MissingRequiredColumnError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredColumn, strings.Join(e.Fields, ", "))
}

func (e *MissingRequiredColumnError) Unwrap() error {
	return ErrMissingRequiredColumn
}

// TypeConflictError reports two tables disagreeing on a column's semantic type.
type TypeConflictError struct {
	Column      string
	Family      string
	Type        string
	OtherType   string
	OtherFamily string
}

func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("%s: column %q is %s in %s but %s in %s",
		ErrAggregationTypeConflict, e.Column, e.Type, e.Family, e.OtherType, e.OtherFamily)
}

func (e *TypeConflictError) Unwrap() error {
	return ErrAggregationTypeConflict
}

// SkipReason classifies a skipped source file for the run summary.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingRequiredColumn):
		return "missing_required_column"
	case errors.Is(err, ErrYearResolution):
		return "year_resolution_failure"
	case errors.Is(err, ErrEmptyOrUnreadableFile):
		return "empty_or_unreadable_file"
	default:
		return "error"
	}
}

// StageOf returns the stage a per-file error was raised in.
func StageOf(err error) Stage {
	switch {
	case errors.Is(err, ErrMissingRequiredColumn):
		return StageSchemaMapping
	case errors.Is(err, ErrYearResolution):
		return StageYearResolution
	case errors.Is(err, ErrMissingEntity):
		return StageAssembly
	case errors.Is(err, ErrAggregationTypeConflict):
		return StageAggregation
	default:
		return StageIngest
	}
}
