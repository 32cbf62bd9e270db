package warehouse

import (
	"context"
	"fmt"

	"github.com/bqeco/bqmeta/internal/config"
)

// Open constructs the Warehouse selected by cfg.
func Open(ctx context.Context, cfg config.WarehouseConfig) (Warehouse, error) {
	switch cfg.Driver {
	case config.WarehouseBigQuery:
		return NewBigQuery(ctx)
	case config.WarehouseCatalog:
		return NewCatalog(cfg.CatalogPath)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}
