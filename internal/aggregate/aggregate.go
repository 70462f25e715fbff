// Package aggregate merges per-family tables into the master KPI table.
package aggregate

import (
	"sort"

	"github.com/wonny/edukpi/internal/assemble"
	"github.com/wonny/edukpi/internal/contracts"
)

// MasterFamily names the merged table and its output files
const MasterFamily = "master_kpi"

// Merge concatenates tables in family-key order into one master table.
// Context columns are the union in first-appearance order, cells a table
// does not carry are NA. Entity identifiers are re-normalized. Two tables
// disagreeing on a column's type fail with a TypeConflictError.
func Merge(tables []contracts.Table) (contracts.Table, error) {
	ordered := append([]contracts.Table(nil), tables...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Family < ordered[j].Family })

	master := contracts.Table{Family: MasterFamily}

	seen := make(map[string]struct{})
	total := 0
	for _, t := range ordered {
		for _, c := range t.ContextColumns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			master.ContextColumns = append(master.ContextColumns, c)
		}
		total += len(t.Rows)
	}

	if err := checkTypes(ordered); err != nil {
		return contracts.Table{}, err
	}

	master.Rows = make([]contracts.KPIRow, 0, total)
	for _, t := range ordered {
		for _, r := range t.Rows {
			r.EntityID, _ = assemble.NormalizeEntityID(r.EntityID)
			r.Context = fill(r, master.ContextColumns)
			master.Rows = append(master.Rows, r)
		}
	}

	return master, nil
}

type typeOwner struct {
	typ    assemble.ColumnType
	family string
}

// checkTypes reconciles column types table by table
func checkTypes(tables []contracts.Table) error {
	merged := make(map[string]typeOwner)

	for _, t := range tables {
		// infer on normalized ids so "1.0" and "1" agree
		normalized := t
		normalized.Rows = make([]contracts.KPIRow, len(t.Rows))
		for i, r := range t.Rows {
			r.EntityID, _ = assemble.NormalizeEntityID(r.EntityID)
			normalized.Rows[i] = r
		}

		types := assemble.ColumnTypes(normalized)
		for _, col := range assemble.Columns(t.ContextColumns) {
			typ := types[col]
			prev, ok := merged[col]
			if !ok {
				merged[col] = typeOwner{typ: typ, family: t.Family}
				continue
			}
			widened, compatible := assemble.Widen(prev.typ, typ)
			if !compatible {
				return &contracts.TypeConflictError{
					Column:      col,
					Family:      t.Family,
					Type:        string(typ),
					OtherType:   string(prev.typ),
					OtherFamily: prev.family,
				}
			}
			if prev.typ == assemble.TypeNull {
				prev.family = t.Family
			}
			merged[col] = typeOwner{typ: widened, family: prev.family}
		}
	}

	return nil
}

func fill(r contracts.KPIRow, columns []string) map[string]string {
	if len(columns) == 0 {
		return nil
	}
	ctx := make(map[string]string, len(columns))
	for _, c := range columns {
		ctx[c] = r.ContextValue(c)
	}
	return ctx
}
