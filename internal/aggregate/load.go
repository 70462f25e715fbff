package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wonny/edukpi/internal/assemble"
	"github.com/wonny/edukpi/internal/contracts"
)

// LoadTable reads a per-family CSV table written by an earlier run.
// Identifiers are normalized on the way in, so tables written before
// integer rendering still merge.
func LoadTable(path string) (contracts.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return contracts.Table{}, err
	}
	defer f.Close()

	family := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	table := contracts.Table{Family: family}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return contracts.Table{}, fmt.Errorf("%s: read header: %w", path, err)
	}
	fixed := len(contracts.FixedColumns)
	if len(header) < fixed {
		return contracts.Table{}, fmt.Errorf("%s: header has %d columns, want at least %d", path, len(header), fixed)
	}
	for i, c := range contracts.FixedColumns {
		if strings.TrimSpace(header[i]) != c {
			return contracts.Table{}, fmt.Errorf("%s: column %d is %q, want %q", path, i+1, header[i], c)
		}
	}
	table.ContextColumns = append([]string(nil), header[fixed:]...)

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return contracts.Table{}, fmt.Errorf("%s: line %d: %w", path, line, err)
		}
		if len(rec) != len(header) {
			return contracts.Table{}, fmt.Errorf("%s: line %d: %d fields, want %d", path, line, len(rec), len(header))
		}

		row, err := parseRow(rec, table.ContextColumns)
		if err != nil {
			return contracts.Table{}, fmt.Errorf("%s: line %d: %w", path, line, err)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func parseRow(rec []string, context []string) (contracts.KPIRow, error) {
	y, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(rec[0]), ".0"))
	if err != nil {
		return contracts.KPIRow{}, fmt.Errorf("year %q: %w", rec[0], err)
	}
	v, err := contracts.ParseValue(rec[5])
	if err != nil {
		return contracts.KPIRow{}, fmt.Errorf("value %q: %w", rec[5], err)
	}
	id, _ := assemble.NormalizeEntityID(rec[2])

	row := contracts.KPIRow{
		Year:       y,
		Metric:     rec[1],
		EntityID:   id,
		EntityName: rec[3],
		Group:      rec[4],
		Value:      v,
	}
	if len(context) > 0 {
		row.Context = make(map[string]string, len(context))
		for i, c := range context {
			row.Context[c] = rec[len(contracts.FixedColumns)+i]
		}
	}
	return row, nil
}
