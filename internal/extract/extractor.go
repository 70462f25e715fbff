// Package extract turns canonical rows into the metric values declared for a family.
package extract

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/pkg/logger"
)

const defaultRateScale = 100

// Extractor emits metric values strictly from configured definitions.
// Never infers, backfills or composes a metric that is not declared.
type Extractor struct {
	defs     []contracts.MetricDefinition
	isMarker func(string) bool
	log      *logger.Logger

	outOfBound  atomic.Int64
	unparseable atomic.Int64
}

// New creates an extractor for the definitions, preserving their order.
func New(defs []contracts.MetricDefinition, log *logger.Logger) *Extractor {
	return &Extractor{
		defs:     defs,
		isMarker: func(string) bool { return false },
		log:      log.WithField("module", "extract"),
	}
}

// WithMarkers sets the redaction-marker predicate; markers are treated as null.
func (e *Extractor) WithMarkers(isMarker func(string) bool) *Extractor {
	if isMarker != nil {
		e.isMarker = isMarker
	}
	return e
}

// OutOfBound returns the number of out-of-bound warnings raised so far.
func (e *Extractor) OutOfBound() int64 {
	return e.outOfBound.Load()
}

// Unparseable returns the number of non-null cells that were neither a
// redaction marker nor a number.
func (e *Extractor) Unparseable() int64 {
	return e.unparseable.Load()
}

// Extract emits one value per definition whose source data is present.
func (e *Extractor) Extract(row contracts.CanonicalRow) []contracts.MetricValue {
	values := make([]contracts.MetricValue, 0, len(e.defs))

	for _, def := range e.defs {
		v, ok := e.value(def, row)
		if !ok {
			continue
		}
		e.checkBounds(def, v, row.Line)
		values = append(values, contracts.MetricValue{Metric: def.Name, Value: contracts.Number(v)})
	}

	return values
}

// Placeholders returns one NA value per declared metric, for suppressed rows.
func (e *Extractor) Placeholders() []contracts.MetricValue {
	values := make([]contracts.MetricValue, 0, len(e.defs))
	for _, def := range e.defs {
		values = append(values, contracts.MetricValue{Metric: def.Name, Value: contracts.NA()})
	}
	return values
}

func (e *Extractor) value(def contracts.MetricDefinition, row contracts.CanonicalRow) (float64, bool) {
	num, ok := e.number(def, row, def.Field)
	if !ok {
		return 0, false
	}

	if def.IsRatio() {
		den, ok := e.number(def, row, def.Denominator)
		if !ok || den == 0 {
			return 0, false
		}
		scale := def.Scale
		if scale == 0 {
			scale = defaultRateScale
		}
		num = num / den * scale
	} else if def.Scale != 0 {
		num *= def.Scale
	}

	if def.Decimals != nil {
		num = Round(num, *def.Decimals)
	}

	return num, true
}

// number reads a numeric cell. A present cell that is neither a marker nor
// a number is warned and counted; the metric is still not emitted.
func (e *Extractor) number(def contracts.MetricDefinition, row contracts.CanonicalRow, field string) (float64, bool) {
	raw, ok := row.Get(field)
	if !ok || e.isMarker(raw) {
		return 0, false
	}
	v, ok := ParseNumber(raw)
	if !ok {
		e.unparseable.Add(1)
		e.log.WithFields(map[string]interface{}{
			"stage":  contracts.StageExtraction,
			"metric": def.Name,
			"field":  field,
			"value":  raw,
			"line":   row.Line,
		}).Warn("metric cell is not numeric, value not emitted")
	}
	return v, ok
}

func (e *Extractor) checkBounds(def contracts.MetricDefinition, v float64, line int) {
	lo, hi := def.Bounds()
	if v >= lo && v <= hi {
		return
	}
	e.outOfBound.Add(1)
	e.log.WithFields(map[string]interface{}{
		"stage":  contracts.StageExtraction,
		"metric": def.Name,
		"value":  v,
		"min":    lo,
		"max":    hi,
		"line":   line,
	}).Warn("metric value out of plausible bounds")
}

// ParseNumber parses a numeric cell, tolerating percent signs,
// thousands separators and surrounding space.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
