// Package schema translates the raw column spellings of a source family into
// its fixed set of canonical field names.
package schema

import (
	"sort"
	"strings"
	"unicode"

	"github.com/wonny/edukpi/internal/contracts"
)

// Field declares one canonical field and every raw spelling observed for it.
// Aliases are listed in preference order: when several are present in one
// file, the first listed wins.
type Field struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Aliases  []string `yaml:"aliases,omitempty" json:"aliases,omitempty" validate:"dive,required"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// Mapper resolves raw headers for one family
type Mapper struct {
	fields []Field
	lookup map[string]alias
}

type alias struct {
	field    string
	priority int
}

// Mapping is the result of matching one header row.
type Mapping struct {
	fields   []string       // every declared canonical field, declaration order
	index    map[string]int // canonical field -> raw column index
	Dropped  []string       // raw columns matching no alias
	Shadowed []string       // raw columns losing to a preferred alias
}

// NewMapper builds a mapper from the family's canonical field declarations.
func NewMapper(fields []Field) *Mapper {
	m := &Mapper{
		fields: fields,
		lookup: make(map[string]alias),
	}
	for _, f := range fields {
		// the canonical name itself always matches
		candidates := append([]string{}, f.Aliases...)
		candidates = append(candidates, f.Name)
		for i, a := range candidates {
			key := Normalize(a)
			if key == "" {
				continue
			}
			if _, exists := m.lookup[key]; exists {
				continue
			}
			m.lookup[key] = alias{field: f.Name, priority: i}
		}
	}
	return m
}

// Map matches a raw header row against the declared aliases.
// A required field with no matching column yields *contracts.MissingRequiredColumnError.
func (m *Mapper) Map(header []string) (*Mapping, error) {
	mapping := &Mapping{
		fields: make([]string, 0, len(m.fields)),
		index:  make(map[string]int),
	}
	best := make(map[string]int) // canonical -> priority of current match

	for col, raw := range header {
		a, ok := m.lookup[Normalize(raw)]
		if !ok {
			mapping.Dropped = append(mapping.Dropped, raw)
			continue
		}
		prev, seen := best[a.field]
		switch {
		case !seen:
			best[a.field] = a.priority
			mapping.index[a.field] = col
		case a.priority < prev:
			mapping.Shadowed = append(mapping.Shadowed, header[mapping.index[a.field]])
			best[a.field] = a.priority
			mapping.index[a.field] = col
		default:
			mapping.Shadowed = append(mapping.Shadowed, raw)
		}
	}

	var missing []string
	for _, f := range m.fields {
		mapping.fields = append(mapping.fields, f.Name)
		if _, ok := mapping.index[f.Name]; !ok && f.Required {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return mapping, &contracts.MissingRequiredColumnError{Fields: missing}
	}

	return mapping, nil
}

// Column returns the raw column index matched for a canonical field.
func (m *Mapping) Column(field string) (int, bool) {
	i, ok := m.index[field]
	return i, ok
}

// Absent lists declared canonical fields with no matching column, sorted.
func (m *Mapping) Absent() []string {
	var out []string
	for _, f := range m.fields {
		if _, ok := m.index[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Row converts one raw record into a CanonicalRow. Every declared field is a
// key; fields with no column, beyond the record, or blank are Null.
func (m *Mapping) Row(line int, record []string) contracts.CanonicalRow {
	row := contracts.CanonicalRow{
		Line:   line,
		Fields: make(map[string]contracts.Cell, len(m.fields)),
	}
	for _, f := range m.fields {
		col, ok := m.Column(f)
		if !ok || col >= len(record) {
			row.Fields[f] = contracts.Cell{Null: true}
			continue
		}
		v := strings.TrimSpace(record[col])
		row.Fields[f] = contracts.Cell{Value: v, Null: v == ""}
	}
	return row
}

// Normalize folds a header spelling for case- and whitespace-insensitive matching.
func Normalize(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
