// Package assemble builds fixed-column KPI rows and infers the column
// types writers and the aggregator agree on.
package assemble

import (
	"fmt"
	"strings"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/familyconfig"
)

// Assembler builds KPIRows for one family
type Assembler struct {
	idField      string
	nameField    string
	groupField   string
	defaultGroup string
	context      []familyconfig.ContextColumn
}

// New creates an assembler from the family's role configuration
func New(cfg *familyconfig.Config) *Assembler {
	return &Assembler{
		idField:      cfg.Entity.IDField,
		nameField:    cfg.Entity.NameField,
		groupField:   cfg.Demographics.Field,
		defaultGroup: cfg.Demographics.GroupLabel(),
		context:      cfg.Context,
	}
}

// Group returns the row's demographic group label
func (a *Assembler) Group(row contracts.CanonicalRow) string {
	if a.groupField == "" {
		return a.defaultGroup
	}
	v, ok := row.Get(a.groupField)
	if !ok {
		return a.defaultGroup
	}
	return strings.Join(strings.Fields(v), " ")
}

// Assemble emits one KPIRow per metric value, in the given order.
// A row without an entity identifier fails with ErrMissingEntity.
func (a *Assembler) Assemble(row contracts.CanonicalRow, year int, values []contracts.MetricValue) ([]contracts.KPIRow, error) {
	raw, ok := row.Get(a.idField)
	if !ok {
		return nil, fmt.Errorf("%w: line %d", contracts.ErrMissingEntity, row.Line)
	}
	id, _ := NormalizeEntityID(raw)

	name := ""
	if a.nameField != "" {
		name, _ = row.Get(a.nameField)
	}

	var context map[string]string
	if len(a.context) > 0 {
		context = make(map[string]string, len(a.context))
		for _, cc := range a.context {
			v, ok := row.Get(cc.Field)
			if !ok {
				v = contracts.NotApplicable
			}
			context[cc.Column] = v
		}
	}

	group := a.Group(row)
	rows := make([]contracts.KPIRow, 0, len(values))
	for _, mv := range values {
		rows = append(rows, contracts.KPIRow{
			Year:       year,
			Metric:     mv.Metric,
			EntityID:   id,
			EntityName: name,
			Group:      group,
			Value:      mv.Value,
			Context:    context,
		})
	}
	return rows, nil
}

// Columns returns the output header: fixed columns then context columns
func Columns(context []string) []string {
	cols := make([]string, 0, len(contracts.FixedColumns)+len(context))
	cols = append(cols, contracts.FixedColumns...)
	return append(cols, context...)
}

// Cells renders one row in Columns order
func Cells(r contracts.KPIRow, context []string) []string {
	cells := make([]string, 0, len(contracts.FixedColumns)+len(context))
	cells = append(cells,
		fmt.Sprint(r.Year),
		r.Metric,
		r.EntityID,
		r.EntityName,
		r.Group,
		r.Value.String(),
	)
	for _, c := range context {
		cells = append(cells, r.ContextValue(c))
	}
	return cells
}
