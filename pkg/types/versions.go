package types

// VersionEntry groups the concrete tables observed for one version of a root.
type VersionEntry struct {
	IsLatest bool     `json:"is_latest"`
	Tables   []string `json:"tables"`
}

// VersionIndex maps root id -> version string -> entry.
type VersionIndex map[string]map[string]*VersionEntry

// Observe records that tableID carries version of root. is_latest is sticky:
// once any observation marks the version latest it stays latest.
func (v VersionIndex) Observe(root, version, tableID string, latest bool) {
	versions, ok := v[root]
	if !ok {
		versions = make(map[string]*VersionEntry)
		v[root] = versions
	}
	entry, ok := versions[version]
	if !ok {
		entry = &VersionEntry{Tables: []string{}}
		versions[version] = entry
	}
	entry.IsLatest = entry.IsLatest || latest
	for _, t := range entry.Tables {
		if t == tableID {
			return
		}
	}
	entry.Tables = append(entry.Tables, tableID)
}

// MarkedTables maps project -> versioned dataset -> raw prefix -> rewritten prefix.
type MarkedTables map[string]map[string]map[string]string
