package registry

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// isWildcard reports whether a declared category matches any requested one at implicit rank
func isWildcard(category string) bool {
	return category == "" || category == "*" || category == types.CategoryDefault
}

// matchEntry reports whether entry answers f, and whether a filter declared
// the requested category explicitly
func matchEntry(entry types.EntryPoint, f types.Filter) (matched, explicit bool) {
	if f.Action == "" && f.Category == "" && f.DataType == "" {
		// Package-only query: every entry of the package answers
		return f.Package != "", false
	}

	for _, filter := range entry.Filters {
		if f.Action != "" && filter.Action != f.Action {
			continue
		}
		if !matchDataType(filter.DataTypes, f.DataType) {
			continue
		}

		requested := f.Category
		switch {
		case requested == "" || requested == types.CategoryDefault:
			matched = true
		case filter.Category == requested:
			return true, true
		case isWildcard(filter.Category):
			matched = true
		}
	}
	return matched, false
}

// matchDataType reports whether any declared MIME pattern accepts dataType.
// Filters without data types accept any data.
func matchDataType(patterns []string, dataType string) bool {
	if dataType == "" || len(patterns) == 0 {
		return true
	}
	dataType = strings.ToLower(dataType)
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(p), dataType); err == nil && ok {
			return true
		}
	}
	return false
}

// sortMatches orders explicit over implicit, installed over built-in, then id.
// Entries of one package keep their declaration order.
func sortMatches(matches []types.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Explicit != b.Explicit {
			return a.Explicit
		}
		if a.Location != b.Location {
			return a.Location == types.LocationInstalled
		}
		return a.PackageID < b.PackageID
	})
}

// DetectDataType sniffs the MIME type of a local file
func DetectDataType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	// Strip parameters such as "; charset=utf-8"
	return strings.TrimSpace(strings.SplitN(mt.String(), ";", 2)[0]), nil
}
