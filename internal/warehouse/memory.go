package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/pkg/types"
)

type memoryDataset struct {
	ds     Dataset
	access []AccessEntry
	tables map[string]types.Descriptor
}

// Memory is an in-process Warehouse for tests. Datasets and tables are
// listed in id order.
type Memory struct {
	mu       sync.Mutex
	projects map[string]map[string]*memoryDataset

	// Fail, when set, is consulted before every call. A non-nil return
	// fails the call with that cause. op is the method name.
	Fail func(op, project, dataset, table string) error

	calls map[string]int
}

// NewMemory returns an empty fake warehouse.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]map[string]*memoryDataset),
		calls:    make(map[string]int),
	}
}

// AddDataset registers a dataset with its access list.
func (m *Memory) AddDataset(project, dataset string, labels map[string]string, access ...AccessEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.dataset(project, dataset)
	ds.ds.Labels = labels
	ds.access = access
}

// AddTable registers a table descriptor, creating the dataset if needed.
// The descriptor is cloned on every GetTable.
func (m *Memory) AddTable(project, dataset, table string, d types.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataset(project, dataset).tables[table] = d
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) dataset(project, dataset string) *memoryDataset {
	p, ok := m.projects[project]
	if !ok {
		p = make(map[string]*memoryDataset)
		m.projects[project] = p
	}
	ds, ok := p[dataset]
	if !ok {
		ds = &memoryDataset{
			ds:     Dataset{ProjectID: project, DatasetID: dataset},
			tables: make(map[string]types.Descriptor),
		}
		p[dataset] = ds
	}
	return ds
}

func (m *Memory) enter(op, project, dataset, table string) error {
	m.calls[op]++
	if m.Fail != nil {
		return m.Fail(op, project, dataset, table)
	}
	return nil
}

func (m *Memory) ListDatasets(ctx context.Context, project, label string) ([]Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDatasets", project, "", ""); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListDatasets, "list datasets of "+project, err)
	}
	var out []Dataset
	for _, ds := range m.projects[project] {
		if label != "" {
			if _, ok := ds.ds.Labels[label]; !ok {
				continue
			}
		}
		out = append(out, ds.ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatasetID < out[j].DatasetID })
	return out, nil
}

func (m *Memory) DatasetAccess(ctx context.Context, project, dataset string) ([]AccessEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := fmt.Sprintf("get dataset %s:%s", project, dataset)
	if err := m.enter("DatasetAccess", project, dataset, ""); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, err)
	}
	ds, ok := m.projects[project][dataset]
	if !ok {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetDataset, msg, fmt.Errorf("dataset not found"))
	}
	return append([]AccessEntry(nil), ds.access...), nil
}

func (m *Memory) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := fmt.Sprintf("list tables of %s:%s", project, dataset)
	if err := m.enter("ListTables", project, dataset, ""); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListTables, msg, err)
	}
	ds, ok := m.projects[project][dataset]
	if !ok {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeListTables, msg, fmt.Errorf("dataset not found"))
	}
	out := make([]string, 0, len(ds.tables))
	for id := range ds.tables {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetTable(ctx context.Context, project, dataset, table string) (types.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := types.TableID(project, dataset, table)
	if err := m.enter("GetTable", project, dataset, table); err != nil {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetTable, "get table "+id, err)
	}
	d, ok := m.projects[project][dataset].tablesOrNil()[table]
	if !ok {
		return nil, bqerrors.NewWarehouseError(bqerrors.CodeGetTable, "get table "+id, fmt.Errorf("table not found"))
	}
	return d.Clone(), nil
}

func (m *Memory) Close() error { return nil }

func (ds *memoryDataset) tablesOrNil() map[string]types.Descriptor {
	if ds == nil {
		return nil
	}
	return ds.tables
}
