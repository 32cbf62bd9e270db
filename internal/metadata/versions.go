package metadata

import (
	"strings"

	"github.com/bqeco/bqmeta/pkg/types"
)

const (
	versionLabel = "version"
	statusLabel  = "status"
	statusLatest = "current"

	versionedDatasetSuffix = "_versioned"
	currentTableSuffix     = "_current"
)

// VersionRoot derives the version-agnostic identity of d. ok is false when
// d has no version label or matches neither the versioned-dataset layout
// nor the flat _current layout.
func VersionRoot(d types.Descriptor, marked types.MarkedTables) (root, version string, latest, ok bool) {
	v, found := d.Label(versionLabel)
	if !found {
		return "", "", false, false
	}
	project, dataset, table := d.Reference()
	version = strings.ReplaceAll(v, "_", ".")

	switch {
	case strings.HasSuffix(dataset, versionedDatasetSuffix):
		rootTable := remapPrefix(marked[project][dataset], table)
		rootTable = trimSuffixFold(rootTable, "_"+v)
		status, _ := d.Label(statusLabel)
		root = types.TableID(project, strings.TrimSuffix(dataset, versionedDatasetSuffix), rootTable)
		return root, version, status == statusLatest, true
	case strings.HasSuffix(table, currentTableSuffix):
		root = types.TableID(project, dataset, strings.TrimSuffix(table, currentTableSuffix))
		return root, version, true, true
	default:
		return "", "", false, false
	}
}

// remapPrefix rewrites the longest raw prefix of table found in prefixes.
func remapPrefix(prefixes map[string]string, table string) string {
	best := ""
	found := false
	for raw := range prefixes {
		if strings.HasPrefix(table, raw) && (!found || len(raw) > len(best)) {
			best, found = raw, true
		}
	}
	if !found {
		return table
	}
	return prefixes[best] + strings.TrimPrefix(table, best)
}

func trimSuffixFold(s, suffix string) string {
	if len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s[:len(s)-len(suffix)]
	}
	return s
}
