package metadata

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/warehouse"
)

// ScanOptions selects which datasets are walked.
type ScanOptions struct {
	// Projects are scanned in order.
	Projects []string
	// Label, when non-empty, restricts listing to datasets carrying it.
	Label string
	// PublicOnly reports whether a project is limited to public datasets.
	// Nil means every project is.
	PublicOnly func(project string) bool
}

func (o ScanOptions) publicOnly(project string) bool {
	if o.PublicOnly == nil {
		return true
	}
	return o.PublicOnly(project)
}

// TableRef names one table found by a walk.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ErrStopWalk may be returned by a walk callback to end the walk early.
var ErrStopWalk = errors.New("stop walk")

// walker enumerates eligible tables in project, dataset, table order as
// returned by the warehouse listings.
type walker struct {
	wh   warehouse.Warehouse
	opts ScanOptions
	log  *zap.Logger
}

// walk calls fn for every eligible table. The first error from the
// warehouse or fn ends the walk; ErrStopWalk ends it and walk returns nil.
func (w *walker) walk(ctx context.Context, fn func(TableRef) error) error {
	err := w.walkAll(ctx, fn)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

func (w *walker) walkAll(ctx context.Context, fn func(TableRef) error) error {
	for _, project := range w.opts.Projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		datasets, err := w.wh.ListDatasets(ctx, project, w.opts.Label)
		if err != nil {
			return err
		}
		publicOnly := w.opts.publicOnly(project)
		w.log.Debug("scanning project",
			zap.String("project", project),
			zap.Int("datasets", len(datasets)),
			zap.Bool("public_only", publicOnly))

		for _, ds := range datasets {
			ok, err := w.eligible(ctx, project, ds.DatasetID, publicOnly)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			tables, err := w.wh.ListTables(ctx, project, ds.DatasetID)
			if err != nil {
				return err
			}
			for _, table := range tables {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(TableRef{Project: project, Dataset: ds.DatasetID, Table: table}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *walker) eligible(ctx context.Context, project, dataset string, publicOnly bool) (bool, error) {
	if IsSkippedDataset(dataset) {
		return false, nil
	}
	if !publicOnly {
		return true, nil
	}
	access, err := w.wh.DatasetAccess(ctx, project, dataset)
	if err != nil {
		return false, err
	}
	if !IsPublic(access) {
		w.log.Debug("skipping non-public dataset", zap.String("project", project), zap.String("dataset", dataset))
		return false, nil
	}
	return true, nil
}
