// Package year derives one canonical 4-digit calendar year from the year
// representations used across releases.
//
// An 8-digit school-year code AAAABBBB always resolves to its ending year
// BBBB. Taking the first group silently shifts every row by one year.
package year

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wonny/edukpi/internal/contracts"
)

const (
	minYear = 1900
	maxYear = 2100
)

// DefaultFilenamePattern prefers an 8-digit school-year code over a bare year.
var DefaultFilenamePattern = regexp.MustCompile(`(?:19|20)\d{2}[-_]?(?:19|20)\d{2}|(?:19|20)\d{2}`)

// Resolve converts a raw year token into a 4-digit year.
func Resolve(token string) (int, error) {
	t := strings.TrimSpace(token)
	t = strings.TrimSuffix(t, ".0")
	if t == "" {
		return 0, fmt.Errorf("%w: empty token", contracts.ErrYearResolution)
	}

	digits := stripSeparators(t)
	switch len(digits) {
	case 8:
		start, err1 := strconv.Atoi(digits[:4])
		end, err2 := strconv.Atoi(digits[4:])
		if err1 != nil || err2 != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", contracts.ErrYearResolution, token)
		}
		if !plausible(start) || !plausible(end) {
			return 0, fmt.Errorf("%w: %q has an implausible year group", contracts.ErrYearResolution, token)
		}
		if end < start {
			return 0, fmt.Errorf("%w: %q ends before it starts", contracts.ErrYearResolution, token)
		}
		return end, nil
	case 4:
		y, err := strconv.Atoi(digits)
		if err != nil || !plausible(y) {
			return 0, fmt.Errorf("%w: %q is not a plausible year", contracts.ErrYearResolution, token)
		}
		return y, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized token %q", contracts.ErrYearResolution, token)
	}
}

// FromFilename extracts the filename-embedded year token, if any.
// A nil pattern uses DefaultFilenamePattern.
func FromFilename(name string, pattern *regexp.Regexp) (string, bool) {
	if pattern == nil {
		pattern = DefaultFilenamePattern
	}
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	// prefer the first capture group when the pattern declares one
	for _, g := range m[1:] {
		if g != "" {
			return g, true
		}
	}
	return m[0], true
}

// Resolver resolves per-row tokens with a filename fallback.
type Resolver struct {
	Fallback string // filename-embedded token, may be empty
}

// ForRow resolves the row token, or the fallback when the row carries none.
// Neither usable is a per-file fatal condition; the caller skips the file.
func (r Resolver) ForRow(token string) (int, error) {
	if strings.TrimSpace(token) != "" {
		return Resolve(token)
	}
	if r.Fallback == "" {
		return 0, fmt.Errorf("%w: no year in row or filename", contracts.ErrYearResolution)
	}
	return Resolve(r.Fallback)
}

// stripSeparators removes the separators between two year groups
// ("2020-2021", "2020/2021", "2020_2021").
func stripSeparators(s string) string {
	if len(s) == 9 {
		switch s[4] {
		case '-', '/', '_':
			s = s[:4] + s[5:]
		}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

func plausible(y int) bool {
	return y >= minYear && y <= maxYear
}
