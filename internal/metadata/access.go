// Package metadata scans the warehouse and builds the table metadata and
// version artifacts.
package metadata

import (
	"strings"

	"github.com/bqeco/bqmeta/internal/warehouse"
)

const (
	// RoleReader is the dataset role granting read access.
	RoleReader = "READER"
	// AllAuthenticatedUsers is the special group covering every signed-in user.
	AllAuthenticatedUsers = "allAuthenticatedUsers"
)

// skippedDatasetPrefixes name datasets holding audit logs and usage metrics.
var skippedDatasetPrefixes = []string{"bq_log", "bq_metrics"}

// IsPublic reports whether any entry grants READER to all authenticated users.
func IsPublic(entries []warehouse.AccessEntry) bool {
	for _, e := range entries {
		if e.Role == RoleReader && e.EntityType == warehouse.EntitySpecialGroup && e.EntityID == AllAuthenticatedUsers {
			return true
		}
	}
	return false
}

// IsSkippedDataset reports whether a dataset is never scanned.
func IsSkippedDataset(datasetID string) bool {
	for _, p := range skippedDatasetPrefixes {
		if strings.HasPrefix(datasetID, p) {
			return true
		}
	}
	return false
}
