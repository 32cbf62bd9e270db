// Package warehouse reads dataset and table metadata from the data warehouse.
package warehouse

import (
	"context"

	"github.com/bqeco/bqmeta/pkg/types"
)

// Entity types used in AccessEntry.EntityType, as named by the BigQuery
// dataset access list.
const (
	EntitySpecialGroup = "specialGroup"
	EntityGroupByEmail = "groupByEmail"
	EntityUserByEmail  = "userByEmail"
	EntityDomain       = "domain"
	EntityIAMMember    = "iamMember"
	EntityView         = "view"
)

// Dataset identifies one dataset of a project.
type Dataset struct {
	ProjectID string
	DatasetID string
	Labels    map[string]string
}

// AccessEntry is one grant in a dataset's access list.
type AccessEntry struct {
	Role       string
	EntityType string
	EntityID   string
}

// Warehouse is the read-only metadata surface the job scans.
type Warehouse interface {
	// ListDatasets returns the datasets of project. A non-empty label
	// restricts the result to datasets carrying that label key.
	ListDatasets(ctx context.Context, project, label string) ([]Dataset, error)

	// DatasetAccess returns the dataset's access list.
	DatasetAccess(ctx context.Context, project, dataset string) ([]AccessEntry, error)

	// ListTables returns the table ids of a dataset.
	ListTables(ctx context.Context, project, dataset string) ([]string, error)

	// GetTable returns the full table descriptor.
	GetTable(ctx context.Context, project, dataset, table string) (types.Descriptor, error)

	// Close releases client resources.
	Close() error
}
