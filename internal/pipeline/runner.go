// Package pipeline runs the extraction stages over a family's files and
// the families of one run in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/wonny/edukpi/internal/assemble"
	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/demographics"
	"github.com/wonny/edukpi/internal/extract"
	"github.com/wonny/edukpi/internal/familyconfig"
	"github.com/wonny/edukpi/internal/schema"
	"github.com/wonny/edukpi/internal/source"
	"github.com/wonny/edukpi/internal/suppression"
	"github.com/wonny/edukpi/internal/year"
	"github.com/wonny/edukpi/pkg/logger"
)

// Batch is the explicit context one source file is processed with
type Batch struct {
	Config   *familyconfig.Config
	File     contracts.SourceFile
	Resolver year.Resolver
	Log      *logger.Logger
}

// SkippedFile records a file the runner could not use
type SkippedFile struct {
	File   string          `json:"file"`
	Stage  contracts.Stage `json:"stage"`
	Reason string          `json:"reason"`
	Error  string          `json:"error"`
}

// FamilyResult is the immutable outcome of one family
type FamilyResult struct {
	Family          string
	ConfigHash      string
	Table           contracts.Table
	Audit           []contracts.DemographicAuditEntry
	FilesDiscovered int
	FilesProcessed  int
	Skipped         []SkippedFile
	RowsRead        int
	SuppressedRows  int
	MissingEntity   int
	Duplicates      int
	OutOfBound      int64
	Unparseable     int64
	Duration        time.Duration
}

// fileResult holds what one file contributes once it succeeds
type fileResult struct {
	file          contracts.SourceFile
	rows          []contracts.KPIRow
	firstYear     int
	rowsRead      int
	suppressed    int
	missingEntity int
	outOfBound    int64
	unparseable   int64
	observed      *demographics.Observations
}

// Runner processes one family's files sequentially
type Runner struct {
	cfg       *familyconfig.Config
	inputRoot string
	mapper    *schema.Mapper
	detector  *suppression.Detector
	assembler *assemble.Assembler
	base      *logger.Logger
	logger    *logger.Logger
}

// NewRunner creates a runner for a validated family configuration
func NewRunner(cfg *familyconfig.Config, inputRoot string, log *logger.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		inputRoot: inputRoot,
		mapper:    schema.NewMapper(cfg.Fields),
		detector:  suppression.NewDetector(cfg.Suppression, cfg.MetricFields()),
		assembler: assemble.New(cfg),
		base:      log,
		logger:    log.WithFields(map[string]interface{}{"module": "pipeline", "family": cfg.Family}),
	}
}

// Run processes every discovered file. Per-file failures skip the file
// and are reported; only discovery and cancellation fail the family.
func (r *Runner) Run(ctx context.Context) (*FamilyResult, error) {
	start := time.Now()

	hash, err := familyconfig.Hash(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}
	pattern, err := r.cfg.YearPattern()
	if err != nil {
		return nil, fmt.Errorf("year pattern: %w", err)
	}

	result := &FamilyResult{
		Family:     r.cfg.Family,
		ConfigHash: hash,
		Skipped:    []SkippedFile{},
	}

	dir := r.cfg.InputDir(r.inputRoot)
	files, err := source.Discover(r.cfg.Family, dir, r.cfg.FilePatterns, pattern)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		r.logger.WithField("dir", dir).Warn("input directory not found")
	}
	result.FilesDiscovered = len(files)

	r.logger.WithFields(map[string]interface{}{
		"files": len(files),
		"dir":   dir,
	}).Info("Starting family")

	var done []*fileResult
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := Batch{
			Config:   r.cfg,
			File:     f,
			Resolver: year.Resolver{Fallback: f.YearToken},
			Log:      r.logger.WithField("file", f.Name),
		}

		fr, err := r.processFile(batch)
		if err != nil {
			r.skip(result, batch, err)
			continue
		}
		done = append(done, fr)
	}

	// output order: first resolved year, then filename
	sort.SliceStable(done, func(i, j int) bool {
		if done[i].firstYear != done[j].firstYear {
			return done[i].firstYear < done[j].firstYear
		}
		return done[i].file.Name < done[j].file.Name
	})

	observed := demographics.NewObservations()
	seen := make(map[string]struct{})
	table := contracts.Table{Family: r.cfg.Family, ContextColumns: r.cfg.ContextColumns()}

	for _, fr := range done {
		result.FilesProcessed++
		result.RowsRead += fr.rowsRead
		result.SuppressedRows += fr.suppressed
		result.MissingEntity += fr.missingEntity
		result.OutOfBound += fr.outOfBound
		result.Unparseable += fr.unparseable
		observed.Merge(fr.observed)

		for _, row := range fr.rows {
			key := row.Key()
			if _, dup := seen[key]; dup {
				result.Duplicates++
				continue
			}
			seen[key] = struct{}{}
			table.Rows = append(table.Rows, row)
		}
	}

	if result.Duplicates > 0 {
		r.logger.WithFields(map[string]interface{}{
			"duplicates": result.Duplicates,
			"stage":      contracts.StageAssembly,
		}).Warn("duplicate (entity, year, group, metric) rows dropped, first occurrence kept")
	}

	if r.cfg.Demographics.Field != "" {
		auditor := demographics.NewAuditor(r.cfg.Family, r.cfg.Demographics, r.base)
		for _, y := range observed.Years() {
			result.Audit = append(result.Audit, auditor.Audit(y, observed.Labels(y)))
		}
	}

	result.Table = table
	result.Duration = time.Since(start)

	r.logger.WithFields(map[string]interface{}{
		"processed":  result.FilesProcessed,
		"skipped":    len(result.Skipped),
		"rows":       len(table.Rows),
		"suppressed": result.SuppressedRows,
		"duration":   result.Duration.String(),
	}).Info("Family completed")

	return result, nil
}

// processFile runs every stage over one file. Any error discards the
// file's rows and observations.
func (r *Runner) processFile(b Batch) (*fileResult, error) {
	rd, err := source.Open(b.File.Path, source.Options{
		Delimiter: b.Config.DelimiterRune(),
		Sheet:     b.Config.Sheet,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrEmptyOrUnreadableFile, err)
	}
	defer rd.Close()

	header, err := rd.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no header row", contracts.ErrEmptyOrUnreadableFile)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrEmptyOrUnreadableFile, err)
	}

	mapping, err := r.mapper.Map(header)
	if err != nil {
		return nil, err
	}
	if len(mapping.Dropped) > 0 {
		b.Log.WithField("columns", mapping.Dropped).Debug("unmapped columns dropped")
	}
	if len(mapping.Shadowed) > 0 {
		b.Log.WithField("columns", mapping.Shadowed).Warn("columns shadowed by a preferred alias")
	}
	if absent := mapping.Absent(); len(absent) > 0 {
		b.Log.WithFields(map[string]interface{}{
			"fields": absent,
			"stage":  contracts.StageSchemaMapping,
		}).Info("optional fields absent, values are null")
	}

	extractor := extract.New(b.Config.Metrics, r.base.WithFields(map[string]interface{}{
		"family": b.Config.Family,
		"file":   b.File.Name,
	})).WithMarkers(r.detector.IsMarker)
	fr := &fileResult{
		file:     b.File,
		observed: demographics.NewObservations(),
	}

	for line := 2; ; line++ {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", contracts.ErrEmptyOrUnreadableFile, line, err)
		}

		row := mapping.Row(line, rec)
		if blank(row) {
			continue
		}
		fr.rowsRead++

		yearToken := ""
		if b.Config.Year.Field != "" {
			yearToken, _ = row.Get(b.Config.Year.Field)
		}
		y, err := b.Resolver.ForRow(yearToken)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if fr.firstYear == 0 {
			fr.firstYear = y
		}

		if b.Config.Demographics.Field != "" {
			fr.observed.Add(y, r.assembler.Group(row))
		}

		var values []contracts.MetricValue
		if r.detector.Suppressed(row) {
			fr.suppressed++
			values = extractor.Placeholders()
		} else {
			values = extractor.Extract(row)
		}

		rows, err := r.assembler.Assemble(row, y, values)
		if err != nil {
			fr.missingEntity++
			b.Log.WithError(err).WithFields(map[string]interface{}{
				"line":  line,
				"stage": contracts.StageOf(err),
			}).Warn("row skipped")
			continue
		}
		fr.rows = append(fr.rows, rows...)
	}

	if fr.rowsRead == 0 {
		return nil, fmt.Errorf("%w: no data rows", contracts.ErrEmptyOrUnreadableFile)
	}

	fr.outOfBound = extractor.OutOfBound()
	fr.unparseable = extractor.Unparseable()
	b.Log.WithFields(map[string]interface{}{
		"rows_read":  fr.rowsRead,
		"kpi_rows":   len(fr.rows),
		"suppressed": fr.suppressed,
		"first_year": fr.firstYear,
	}).Debug("file processed")

	return fr, nil
}

func (r *Runner) skip(result *FamilyResult, b Batch, err error) {
	reason := contracts.SkipReason(err)
	stage := contracts.StageOf(err)
	result.Skipped = append(result.Skipped, SkippedFile{
		File:   b.File.Name,
		Stage:  stage,
		Reason: reason,
		Error:  err.Error(),
	})

	log := b.Log.WithError(err).WithFields(map[string]interface{}{
		"reason": reason,
		"stage":  stage,
	})
	if errors.Is(err, contracts.ErrEmptyOrUnreadableFile) {
		log.Warn("file skipped")
		return
	}
	log.Error("file skipped")
}

// blank reports a row with no value in any canonical field
func blank(row contracts.CanonicalRow) bool {
	for f := range row.Fields {
		if _, ok := row.Get(f); ok {
			return false
		}
	}
	return true
}
