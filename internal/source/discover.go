// Package source finds a family's raw files and streams their records.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/year"
)

// Discover lists the files of dir matching any of patterns, sorted by name.
// Pattern matching is case-insensitive; hidden and lock files are ignored.
func Discover(family, dir string, patterns []string, yearPattern *regexp.Regexp) ([]contracts.SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir %s: %w", dir, err)
	}

	var files []contracts.SourceFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if !matchesAny(name, patterns) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		token, _ := year.FromFilename(name, yearPattern)

		files = append(files, contracts.SourceFile{
			Family:    family,
			Path:      filepath.Join(dir, name),
			Name:      name,
			Size:      info.Size(),
			YearToken: token,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}
