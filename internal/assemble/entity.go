package assemble

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var numericRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// NormalizeEntityID renders an identifier canonically.
// Numeric values with a zero fractional part become plain integer strings
// ("1.0" -> "1", "2.10090000123E11" -> "210090000123"); the bool reports
// whether the value was such an integer. Anything else is returned trimmed.
func NormalizeEntityID(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return normalizeString(x)
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case fmt.Stringer:
		return normalizeString(x.String())
	default:
		return normalizeString(fmt.Sprint(x))
	}
}

func normalizeFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64), false
	}
	if f != math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, 64), false
	}
	i, _ := big.NewFloat(f).Int(nil)
	return i.String(), true
}

func normalizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !numericRe.MatchString(s) {
		return s, false
	}
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil || !f.IsInt() {
		return s, false
	}
	i, _ := f.Int(nil)
	return i.String(), true
}
