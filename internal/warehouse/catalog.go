package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/pkg/types"
)

// Catalog implements Warehouse over a SQLite snapshot of warehouse metadata.
// It serves offline runs and fixtures, and is written by Snapshot.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

// NewCatalog opens (creating if needed) a catalog file.
func NewCatalog(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// PutDataset inserts or replaces a dataset and its access list.
func (c *Catalog) PutDataset(ctx context.Context, ds Dataset, access []AccessEntry) error {
	labels := ds.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode labels: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (project_id, dataset_id, labels_json) VALUES (?, ?, ?)
		ON CONFLICT (project_id, dataset_id) DO UPDATE SET labels_json = excluded.labels_json`,
		ds.ProjectID, ds.DatasetID, string(labelsJSON)); err != nil {
		return fmt.Errorf("catalog: failed to upsert dataset: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM access_entries WHERE project_id = ? AND dataset_id = ?`,
		ds.ProjectID, ds.DatasetID); err != nil {
		return fmt.Errorf("catalog: failed to clear access entries: %w", err)
	}
	for i, a := range access {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO access_entries (project_id, dataset_id, position, role, entity_type, entity_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ds.ProjectID, ds.DatasetID, i, a.Role, a.EntityType, a.EntityID); err != nil {
			return fmt.Errorf("catalog: failed to insert access entry: %w", err)
		}
	}
	return tx.Commit()
}

// PutTable inserts or replaces a table descriptor. The dataset must exist.
func (c *Catalog) PutTable(ctx context.Context, project, dataset, table string, d types.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode descriptor: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tables (project_id, dataset_id, table_id, descriptor_json) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, dataset_id, table_id) DO UPDATE SET descriptor_json = excluded.descriptor_json`,
		project, dataset, table, string(data))
	if err != nil {
		return fmt.Errorf("catalog: failed to upsert table: %w", err)
	}
	return nil
}

// ListDatasets returns datasets ordered by id.
func (c *Catalog) ListDatasets(ctx context.Context, project, label string) ([]Dataset, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT dataset_id, labels_json FROM datasets WHERE project_id = ? ORDER BY dataset_id`, project)
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListDatasets, "list datasets of "+project, err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var id, labelsJSON string
		if err := rows.Scan(&id, &labelsJSON); err != nil {
			return nil, bqerrors.NewWarehouseError(bqerrors.CodeListDatasets, "scan dataset row", err)
		}
		var labels map[string]string
		if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
			return nil, bqerrors.NewWarehouseError(bqerrors.CodeListDatasets, "decode labels of "+id, err)
		}
		if label != "" {
			if _, ok := labels[label]; !ok {
				continue
			}
		}
		out = append(out, Dataset{ProjectID: project, DatasetID: id, Labels: labels})
	}
	if err := rows.Err(); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListDatasets, "list datasets of "+project, err)
	}
	return out, nil
}

// DatasetAccess returns the access list in stored order.
func (c *Catalog) DatasetAccess(ctx context.Context, project, dataset string) ([]AccessEntry, error) {
	msg := fmt.Sprintf("get dataset %s:%s", project, dataset)

	var exists int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM datasets WHERE project_id = ? AND dataset_id = ?`, project, dataset).Scan(&exists)
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, err)
	}
	if exists == 0 {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, fmt.Errorf("dataset not found"))
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT role, entity_type, entity_id FROM access_entries
		WHERE project_id = ? AND dataset_id = ? ORDER BY position`, project, dataset)
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, err)
	}
	defer rows.Close()

	var out []AccessEntry
	for rows.Next() {
		var a AccessEntry
		if err := rows.Scan(&a.Role, &a.EntityType, &a.EntityID); err != nil {
			return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, err)
	}
	return out, nil
}

// ListTables returns table ids ordered by id.
func (c *Catalog) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	msg := fmt.Sprintf("list tables of %s:%s", project, dataset)
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_id FROM tables WHERE project_id = ? AND dataset_id = ? ORDER BY table_id`,
		project, dataset)
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListTables, msg, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, bqerrors.NewWarehouseError(bqerrors.CodeListTables, msg, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListTables, msg, err)
	}
	return out, nil
}

// GetTable returns the stored descriptor.
func (c *Catalog) GetTable(ctx context.Context, project, dataset, table string) (types.Descriptor, error) {
	id := types.TableID(project, dataset, table)
	var data string
	err := c.db.QueryRowContext(ctx, `
		SELECT descriptor_json FROM tables WHERE project_id = ? AND dataset_id = ? AND table_id = ?`,
		project, dataset, table).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetTable, "get table "+id, fmt.Errorf("table not found"))
	}
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetTable, "get table "+id, err)
	}
	d, err := types.DecodeDescriptor([]byte(data))
	if err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetTable, "decode table "+id, err)
	}
	return d, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// SnapshotStats counts what Snapshot copied.
type SnapshotStats struct {
	Datasets int
	Tables   int
}

// Snapshot copies every dataset, access list and table descriptor of the
// given projects from src into dst. A non-empty label restricts datasets as
// in ListDatasets.
func Snapshot(ctx context.Context, src Warehouse, dst *Catalog, projects []string, label string) (SnapshotStats, error) {
	var stats SnapshotStats
	for _, project := range projects {
		datasets, err := src.ListDatasets(ctx, project, label)
		if err != nil {
			return stats, err
		}
		for _, ds := range datasets {
			access, err := src.DatasetAccess(ctx, project, ds.DatasetID)
			if err != nil {
				return stats, err
			}
			if err := dst.PutDataset(ctx, ds, access); err != nil {
				return stats, err
			}
			stats.Datasets++

			tables, err := src.ListTables(ctx, project, ds.DatasetID)
			if err != nil {
				return stats, err
			}
			for _, table := range tables {
				d, err := src.GetTable(ctx, project, ds.DatasetID, table)
				if err != nil {
					return stats, err
				}
				if err := dst.PutTable(ctx, project, ds.DatasetID, table, d); err != nil {
					return stats, err
				}
				stats.Tables++
			}
		}
	}
	return stats, nil
}
