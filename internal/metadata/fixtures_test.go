package metadata

import (
	"strconv"

	"github.com/bqeco/bqmeta/internal/warehouse"
	"github.com/bqeco/bqmeta/pkg/types"
)

var publicAccess = warehouse.AccessEntry{
	Role:       RoleReader,
	EntityType: warehouse.EntitySpecialGroup,
	EntityID:   AllAuthenticatedUsers,
}

// table builds a REST-shaped descriptor including the fields Strip removes.
func table(project, dataset, tableID string, labels map[string]string, modifiedMs int64) types.Descriptor {
	d := types.Descriptor{
		"kind":                   "bigquery#table",
		"etag":                   "abc==",
		"selfLink":               "https://bigquery.googleapis.com/bigquery/v2/projects/x",
		"location":               "US",
		"numBytes":               "100",
		"numLongTermBytes":       "0",
		"numTotalLogicalBytes":   "100",
		"numActivePhysicalBytes": "7",
		"numRows":                "10",
		"type":                   "TABLE",
		"lastModifiedTime":       strconv.FormatInt(modifiedMs, 10),
	}
	d.SetReference(project, dataset, tableID)
	if labels != nil {
		raw := make(map[string]any, len(labels))
		for k, v := range labels {
			raw[k] = v
		}
		d[types.FieldLabels] = raw
	}
	return d
}
