// Package output writes KPI tables, demographic audit artifacts and the
// run summary to the output directory.
package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wonny/edukpi/internal/assemble"
	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/pkg/logger"
)

const (
	auditSuffix     = "_demographic_audit"
	masterAuditName = "demographic_audit"
	runSummaryName  = "run_summary.json"
	masterTableName = "master_kpi"
	csvExt          = ".csv"
	parquetExt      = ".parquet"
)

// AuditColumns is the header of every demographic audit artifact
var AuditColumns = []string{"family", "year", "finding", "label", "observed_labels"}

// Writer writes run artifacts into one directory
type Writer struct {
	dir     string
	parquet bool
	log     *logger.Logger
}

// NewWriter creates a writer; parquet enables the columnar copy of each table
func NewWriter(dir string, parquet bool, log *logger.Logger) *Writer {
	return &Writer{
		dir:     dir,
		parquet: parquet,
		log:     log.WithField("module", "output"),
	}
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.dir
}

// WriteTable writes <family>.csv and, when enabled, <family>.parquet.
// Returns the written paths.
func (w *Writer) WriteTable(t contracts.Table) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	types := assemble.ColumnTypes(t)

	csvPath := filepath.Join(w.dir, t.Family+csvExt)
	if err := writeAtomic(csvPath, func(out io.Writer) error {
		return WriteCSV(out, t)
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(csvPath), err)
	}
	paths := []string{csvPath}

	if w.parquet {
		pqPath := filepath.Join(w.dir, t.Family+parquetExt)
		if err := writeAtomic(pqPath, func(out io.Writer) error {
			return WriteParquet(out, t, types)
		}); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(pqPath), err)
		}
		paths = append(paths, pqPath)
	}

	w.log.WithFields(map[string]interface{}{
		"table": t.Family,
		"rows":  len(t.Rows),
	}).Debug("table written")

	return paths, nil
}

// WriteFamilyAudit writes <family>_demographic_audit.csv
func (w *Writer) WriteFamilyAudit(family string, entries []contracts.DemographicAuditEntry) (string, error) {
	return w.writeAudit(family+auditSuffix, entries)
}

// WriteMasterAudit writes the combined demographic_audit.csv
func (w *Writer) WriteMasterAudit(entries []contracts.DemographicAuditEntry) (string, error) {
	return w.writeAudit(masterAuditName, entries)
}

func (w *Writer) writeAudit(name string, entries []contracts.DemographicAuditEntry) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, name+csvExt)
	if err := writeAtomic(path, func(out io.Writer) error {
		return WriteAuditCSV(out, entries)
	}); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// WriteSummary writes run_summary.json
func (w *Writer) WriteSummary(v any) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, runSummaryName)
	if err := writeAtomic(path, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}); err != nil {
		return "", fmt.Errorf("write %s: %w", runSummaryName, err)
	}
	return path, nil
}

// WriteCSV renders a table in the fixed column order
func WriteCSV(out io.Writer, t contracts.Table) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(assemble.Columns(t.ContextColumns)); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write(assemble.Cells(r, t.ContextColumns)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAuditCSV renders one record per finding
func WriteAuditCSV(out io.Writer, entries []contracts.DemographicAuditEntry) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(AuditColumns); err != nil {
		return err
	}
	for _, e := range entries {
		for _, f := range e.Findings() {
			if err := cw.Write([]string{
				f.Family,
				strconv.Itoa(f.Year),
				f.Kind,
				f.Label,
				f.ObservedLabels,
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// TablePaths lists the per-family CSV tables of dir, sorted by name.
// Master and audit artifacts are excluded.
func TablePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, csvExt) {
			continue
		}
		stem := strings.TrimSuffix(name, csvExt)
		if stem == masterTableName || stem == masterAuditName || strings.HasSuffix(stem, auditSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// outputMode is the permission of every written artifact
const outputMode os.FileMode = 0o644

// writeAtomic writes through a temp file renamed into place
func writeAtomic(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// CreateTemp opens 0600; outputs are shared artifacts
	if err := os.Chmod(tmp.Name(), outputMode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
