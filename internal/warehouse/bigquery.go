package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	bq "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/pkg/types"
)

// BigQuery implements Warehouse over the BigQuery REST v2 API. Table
// descriptors are the REST table resource, so field names match what the
// metadata artifact has always carried.
type BigQuery struct {
	svc *bq.Service
}

// NewBigQuery creates a client using application default credentials
// unless opts say otherwise.
func NewBigQuery(ctx context.Context, opts ...option.ClientOption) (*BigQuery, error) {
	svc, err := bq.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery service: %w", err)
	}
	return &BigQuery{svc: svc}, nil
}

// ListDatasets pages through the project's datasets.
func (b *BigQuery) ListDatasets(ctx context.Context, project, label string) ([]Dataset, error) {
	call := b.svc.Datasets.List(project).Context(ctx)
	if label != "" {
		call = call.Filter("labels." + label)
	}
	var out []Dataset
	err := call.Pages(ctx, func(page *bq.DatasetList) error {
		for _, d := range page.Datasets {
			if d == nil || d.DatasetReference == nil {
				continue
			}
			out = append(out, Dataset{
				ProjectID: d.DatasetReference.ProjectId,
				DatasetID: d.DatasetReference.DatasetId,
				Labels:    d.Labels,
			})
		}
		return nil
	})
	if err != nil {
		return nil, apiError(bqerrors.CodeListDatasets, "list datasets of "+project, err)
	}
	return out, nil
}

// DatasetAccess fetches the dataset resource and flattens its access list.
func (b *BigQuery) DatasetAccess(ctx context.Context, project, dataset string) ([]AccessEntry, error) {
	ds, err := b.svc.Datasets.Get(project, dataset).Context(ctx).Do()
	if err != nil {
		return nil, apiError(bqerrors.CodeGetDataset, fmt.Sprintf("get dataset %s:%s", project, dataset), err)
	}
	out := make([]AccessEntry, 0, len(ds.Access))
	for _, a := range ds.Access {
		if a == nil {
			continue
		}
		out = append(out, accessEntry(a))
	}
	return out, nil
}

// ListTables pages through the dataset's tables and views.
func (b *BigQuery) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	var out []string
	err := b.svc.Tables.List(project, dataset).Context(ctx).Pages(ctx, func(page *bq.TableList) error {
		for _, t := range page.Tables {
			if t == nil || t.TableReference == nil {
				continue
			}
			out = append(out, t.TableReference.TableId)
		}
		return nil
	})
	if err != nil {
		return nil, apiError(bqerrors.CodeListTables, fmt.Sprintf("list tables of %s:%s", project, dataset), err)
	}
	return out, nil
}

// GetTable fetches the table resource and re-decodes it as a Descriptor.
func (b *BigQuery) GetTable(ctx context.Context, project, dataset, table string) (types.Descriptor, error) {
	id := types.TableID(project, dataset, table)
	t, err := b.svc.Tables.Get(project, dataset, table).Context(ctx).Do()
	if err != nil {
		return nil, apiError(bqerrors.CodeGetTable, "get table "+id, err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, bqerrors.NewInternalError("encode table "+id, err)
	}
	d, err := types.DecodeDescriptor(data)
	if err != nil {
		return nil, bqerrors.NewInternalError("decode table "+id, err)
	}
	return d, nil
}

// Close is a no-op; the REST service holds no closable resources.
func (b *BigQuery) Close() error { return nil }

func accessEntry(a *bq.DatasetAccess) AccessEntry {
	e := AccessEntry{Role: a.Role}
	switch {
	case a.SpecialGroup != "":
		e.EntityType, e.EntityID = EntitySpecialGroup, a.SpecialGroup
	case a.GroupByEmail != "":
		e.EntityType, e.EntityID = EntityGroupByEmail, a.GroupByEmail
	case a.UserByEmail != "":
		e.EntityType, e.EntityID = EntityUserByEmail, a.UserByEmail
	case a.Domain != "":
		e.EntityType, e.EntityID = EntityDomain, a.Domain
	case a.IamMember != "":
		e.EntityType, e.EntityID = EntityIAMMember, a.IamMember
	case a.View != nil:
		e.EntityType = EntityView
		e.EntityID = types.TableID(a.View.ProjectId, a.View.DatasetId, a.View.TableId)
	}
	return e
}

func apiError(code, message string, err error) error {
	werr := bqerrors.NewWarehouseError(code, message, err)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		werr = werr.WithDetails(map[string]interface{}{"http_status": gerr.Code})
	}
	return werr
}
