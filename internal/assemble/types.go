package assemble

import (
	"math"
	"strconv"

	"github.com/wonny/edukpi/internal/contracts"
)

// ColumnType is the semantic type of an output column
type ColumnType string

const (
	TypeNull    ColumnType = "null" // only NA cells seen
	TypeInteger ColumnType = "integer"
	TypeNumber  ColumnType = "number"
	TypeText    ColumnType = "text"
)

// Widen merges two observed types. Integer widens to number and null to
// anything; text against a numeric type is a conflict.
func Widen(a, b ColumnType) (ColumnType, bool) {
	switch {
	case a == b:
		return a, true
	case a == TypeNull:
		return b, true
	case b == TypeNull:
		return a, true
	case a == TypeText || b == TypeText:
		return TypeText, false
	default:
		return TypeNumber, true
	}
}

// ColumnTypes infers the type of every column of the table.
func ColumnTypes(t contracts.Table) map[string]ColumnType {
	types := map[string]ColumnType{
		"year":              TypeInteger,
		"metric":            TypeText,
		"entity_id":         TypeNull,
		"entity_name":       TypeText,
		"demographic_group": TypeText,
		"value":             TypeNumber,
	}
	for _, c := range t.ContextColumns {
		types[c] = TypeNull
	}

	for _, r := range t.Rows {
		types["entity_id"] = widenLoose(types["entity_id"], cellType(r.EntityID))
		for _, c := range t.ContextColumns {
			types[c] = widenLoose(types[c], cellType(r.ContextValue(c)))
		}
	}

	if types["entity_id"] == TypeNull {
		types["entity_id"] = TypeText
	}
	return types
}

// widenLoose widens within one table, where mixed text and numbers is text
func widenLoose(a, b ColumnType) ColumnType {
	t, _ := Widen(a, b)
	return t
}

// cellType types a cell as numeric only when the text is the canonical
// rendering of its value, so "02134", "+5", ".5" and "5." stay text and
// every output format carries the cell unchanged.
func cellType(v string) ColumnType {
	if v == "" || v == contracts.NotApplicable {
		return TypeNull
	}
	if _, ok := CanonicalInt(v); ok {
		return TypeInteger
	}
	if _, ok := CanonicalFloat(v); ok {
		return TypeNumber
	}
	return TypeText
}

// CanonicalInt parses v when it is exactly strconv.FormatInt of its value.
func CanonicalInt(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != v {
		return 0, false
	}
	return n, true
}

// CanonicalFloat parses v when it is exactly the 'f' rendering of a finite
// value, the format every numeric cell is written with.
func CanonicalFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if strconv.FormatFloat(f, 'f', -1, 64) != v {
		return 0, false
	}
	return f, true
}
