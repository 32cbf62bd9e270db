package metadata

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/warehouse"
)

// Checker decides whether the published metadata is out of date.
type Checker struct {
	w walker
}

// NewChecker creates a staleness checker.
func NewChecker(wh warehouse.Warehouse, opts ScanOptions, log *zap.Logger) *Checker {
	return &Checker{w: walker{wh: wh, opts: opts, log: log}}
}

// Check reports whether any eligible table was modified strictly after ref.
// It stops at the first such table. Tables without a modification time are
// never newer.
func (c *Checker) Check(ctx context.Context, ref time.Time) (bool, error) {
	stale := false
	err := c.w.walk(ctx, func(t TableRef) error {
		d, err := c.w.wh.GetTable(ctx, t.Project, t.Dataset, t.Table)
		if err != nil {
			return err
		}
		modified, ok := d.LastModified()
		if ok && modified.After(ref) {
			c.w.log.Info("metadata is outdated",
				zap.String("table", d.ID()),
				zap.Time("modified", modified),
				zap.Time("snapshot", ref))
			stale = true
			return ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return stale, nil
}
