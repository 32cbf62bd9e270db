package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/config"
	"github.com/bqeco/bqmeta/internal/metadata"
	"github.com/bqeco/bqmeta/internal/observability"
	"github.com/bqeco/bqmeta/internal/storage"
	"github.com/bqeco/bqmeta/internal/warehouse"
	"github.com/bqeco/bqmeta/pkg/types"
)

var (
	t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	publicAccess = warehouse.AccessEntry{
		Role:       metadata.RoleReader,
		EntityType: warehouse.EntitySpecialGroup,
		EntityID:   metadata.AllAuthenticatedUsers,
	}
)

const joinSheet = `programs,reserved,title,description,tables,condition,sql
TCGA,,Clinical to samples,Join on case,isb-cgc-bq.[PROGRAM].clinical;isb-cgc-bq.[PROGRAM].biospecimen,case_barcode,SELECT * FROM [PROGRAM]
`

type fixture struct {
	cfg     *config.Config
	store   *storage.MemoryStore
	wh      *warehouse.Memory
	metrics *observability.Metrics
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.StoreMemory
	cfg.Scan.Projects = []string{"p"}
	require.NoError(t, cfg.Validate())

	f := &fixture{
		cfg:     cfg,
		store:   storage.NewMemoryStore(),
		wh:      warehouse.NewMemory(),
		metrics: observability.NewMetrics(),
		now:     t0,
	}
	f.store.Clock = func() time.Time { return f.now }
	f.wh.AddDataset("p", "TCGA", nil, publicAccess)
	return f
}

func (f *fixture) addTable(table string, modified time.Time, labels map[string]string) {
	f.addTableIn("TCGA", table, modified, labels)
}

func (f *fixture) addTableIn(dataset, table string, modified time.Time, labels map[string]string) {
	d := types.Descriptor{
		"kind":                      "bigquery#table",
		"etag":                      "abc==",
		"numBytes":                  "1024",
		"type":                      "TABLE",
		types.FieldNumRows:          "3",
		types.FieldLastModifiedTime: strconv.FormatInt(modified.UnixMilli(), 10),
	}
	d.SetReference("p", dataset, table)
	for k, v := range labels {
		d.SetLabel(k, v)
	}
	f.wh.AddTable("p", dataset, table, d)
}

func (f *fixture) seed(t *testing.T, key, body string, at time.Time) {
	t.Helper()
	_, err := f.store.Put(context.Background(), key, []byte(body), storage.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, f.store.Touch(key, at, at))
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	return f.runWith(t, f.store)
}

func (f *fixture) runWith(t *testing.T, store storage.Store) Result {
	t.Helper()
	j := New(f.cfg, store, f.wh, zap.NewNop(), f.metrics)
	return j.Run(context.Background(), Request{Trigger: "test"})
}

func (f *fixture) body(t *testing.T, key string) string {
	t.Helper()
	data, _, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) exists(key string) bool {
	_, err := f.store.Head(context.Background(), key)
	return err == nil
}

func (f *fixture) tables(t *testing.T) []types.Descriptor {
	t.Helper()
	ds, err := types.DecodeDescriptors(strings.NewReader(f.body(t, f.cfg.Artifacts.MetadataPath)))
	require.NoError(t, err)
	return ds
}

func (f *fixture) filters(t *testing.T) *types.FilterIndex {
	t.Helper()
	var idx types.FilterIndex
	require.NoError(t, json.Unmarshal([]byte(f.body(t, f.cfg.Artifacts.FiltersPath)), &idx))
	return &idx
}

func optionValues(idx *types.FilterIndex, facet string) []string {
	fc, _ := idx.Facet(facet)
	out := make([]string, 0, len(fc.Options))
	for _, o := range fc.Options {
		out = append(out, o.Value)
	}
	return out
}

func TestRun_FirstRunPublishesArtifacts(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0.Add(-time.Hour), map[string]string{"program": "tcga"})
	f.addTable("b", t0.Add(-time.Hour), nil)

	res := f.run(t)
	assert.Equal(t, 200, res.Code)
	assert.Equal(t, "Function <run_bq_metadata_etl> ran successfully.", res.Message)
	_, err := uuid.Parse(res.RunID)
	assert.NoError(t, err)

	tables := f.tables(t)
	require.Len(t, tables, 2)
	assert.Equal(t, "p:TCGA.a", tables[0].ID())
	assert.Equal(t, "p:TCGA.b", tables[1].ID())
	for _, d := range tables {
		assert.NotContains(t, d, "kind")
		assert.NotContains(t, d, "numBytes")
		assert.Contains(t, d, types.FieldNumRows)
	}

	data, info, err := f.store.Get(context.Background(), f.cfg.Artifacts.MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, storage.Fingerprint(data), info.Metadata[storage.MetadataFingerprint])

	idx := f.filters(t)
	assert.Equal(t, []string{"tcga"}, optionValues(idx, "program"))
	assert.Equal(t, []string{"", "p"}, optionValues(idx, "project_id"))

	assert.False(t, f.exists(f.cfg.Artifacts.VersionsPath))
	assert.False(t, f.exists(f.cfg.Artifacts.JoinsJSONPath))
}

func TestRun_UpToDateLeavesArtifacts(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0.Add(-time.Hour), nil)
	f.seed(t, f.cfg.Artifacts.MetadataPath, `[]`, t0)
	f.seed(t, f.cfg.Artifacts.FiltersPath, `{}`, t0)
	f.now = t0.Add(time.Hour)

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)
	assert.Equal(t, `[]`, f.body(t, f.cfg.Artifacts.MetadataPath))
	assert.Equal(t, `{}`, f.body(t, f.cfg.Artifacts.FiltersPath))
	assert.Equal(t, 1, f.wh.Calls("GetTable"))
}

func TestRun_SameInstantIsNotStale(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0, nil)
	f.seed(t, f.cfg.Artifacts.MetadataPath, `[]`, t0)
	f.seed(t, f.cfg.Artifacts.FiltersPath, `{}`, t0)

	require.Equal(t, 200, f.run(t).Code)
	assert.Equal(t, `[]`, f.body(t, f.cfg.Artifacts.MetadataPath))
}

func TestRun_StaleMetadataRebuildsBoth(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0.Add(-time.Hour), nil)
	f.addTable("b", t0.Add(time.Minute), map[string]string{"data_type": "clinical"})
	f.seed(t, f.cfg.Artifacts.MetadataPath, `[]`, t0)
	f.seed(t, f.cfg.Artifacts.FiltersPath, `{}`, t0)
	f.now = t0.Add(time.Hour)

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)
	assert.Len(t, f.tables(t), 2)
	assert.Equal(t, []string{"clinical"}, optionValues(f.filters(t), "data_type"))
}

func TestRun_FiltersRebuiltFromPublishedMetadata(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0.Add(-time.Hour), nil)
	published := `[{"id":"p:TCGA.a","tableReference":{"projectId":"p","datasetId":"TCGA","tableId":"a"},"labels":{"source":"gdc"}}]`
	f.seed(t, f.cfg.Artifacts.MetadataPath, published, t0)

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)
	assert.Equal(t, published, f.body(t, f.cfg.Artifacts.MetadataPath))
	assert.Equal(t, []string{"gdc"}, optionValues(f.filters(t), "source"))
}

func TestRun_MalformedPublishedMetadata(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.cfg.Artifacts.MetadataPath, `{not json`, t0)

	res := f.run(t)
	assert.Equal(t, 500, res.Code)
	assert.True(t, strings.HasPrefix(res.Message, "Function <run_bq_metadata_etl> failed to run: "), res.Message)
	assert.Contains(t, res.Message, "MALFORMED_JSON")
}

func TestRun_PartialScanIsPublished(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0, nil)
	f.addTable("b", t0, nil)
	f.addTable("c", t0, nil)
	f.wh.Fail = func(op, project, dataset, table string) error {
		if op == "GetTable" && table == "b" {
			return errors.New("backend unavailable")
		}
		return nil
	}

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)
	tables := f.tables(t)
	require.Len(t, tables, 1)
	assert.Equal(t, "p:TCGA.a", tables[0].ID())
}

func TestRun_CancelledScanIsNotPublished(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0, nil)
	f.addTable("b", t0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.wh.Fail = func(op, project, dataset, table string) error {
		if op == "GetTable" && table == "b" {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	res := New(f.cfg, f.store, f.wh, zap.NewNop(), f.metrics).Run(ctx, Request{Trigger: "test"})
	require.Equal(t, 500, res.Code)
	assert.Contains(t, res.Message, "metadata scan aborted")
	_, err := f.store.Head(context.Background(), f.cfg.Artifacts.MetadataPath)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestRun_StalenessFailureKeepsMetadata(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0.Add(time.Hour), nil)
	f.seed(t, f.cfg.Artifacts.MetadataPath, `[]`, t0)
	f.seed(t, f.cfg.Artifacts.FiltersPath, `{}`, t0)
	f.wh.Fail = func(op, project, dataset, table string) error {
		if op == "ListTables" {
			return errors.New("quota exceeded")
		}
		return nil
	}

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)
	assert.Equal(t, `[]`, f.body(t, f.cfg.Artifacts.MetadataPath))
}

func TestRun_JoinConversion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.cfg.Artifacts.JoinsCSVPath, joinSheet, t0)

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)

	var entries []types.JoinEntry
	require.NoError(t, json.Unmarshal([]byte(f.body(t, f.cfg.Artifacts.JoinsJSONPath)), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "isb-cgc-bq:TCGA.clinical", entries[0].ID)
	assert.Equal(t, "isb-cgc-bq:TCGA.biospecimen", entries[1].ID)
	assert.Equal(t, []string{"isb-cgc-bq:TCGA.biospecimen"}, entries[0].Joins[0].Tables)
	assert.Equal(t, "SELECT * FROM TCGA", entries[0].Joins[0].SQL)
}

func TestRun_JoinConversionFollowsSheetUpdates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.cfg.Artifacts.JoinsCSVPath, joinSheet, t0)
	f.seed(t, f.cfg.Artifacts.JoinsJSONPath, `"previous"`, t0.Add(time.Hour))

	require.Equal(t, 200, f.run(t).Code)
	assert.Equal(t, `"previous"`, f.body(t, f.cfg.Artifacts.JoinsJSONPath))

	require.NoError(t, f.store.Touch(f.cfg.Artifacts.JoinsCSVPath, t0, t0.Add(2*time.Hour)))
	require.Equal(t, 200, f.run(t).Code)
	assert.NotEqual(t, `"previous"`, f.body(t, f.cfg.Artifacts.JoinsJSONPath))
}

func TestRun_JoinConversionDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Artifacts.ConvertJoins = false
	f.seed(t, f.cfg.Artifacts.JoinsCSVPath, joinSheet, t0)

	require.Equal(t, 200, f.run(t).Code)
	assert.False(t, f.exists(f.cfg.Artifacts.JoinsJSONPath))
}

func TestRun_MalformedJoinSheet(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.cfg.Artifacts.JoinsCSVPath, "h1,h2,h3,h4,h5,h6,h7\nTCGA,,only three\n", t0)

	res := f.run(t)
	assert.Equal(t, 500, res.Code)
	assert.Contains(t, res.Message, "MALFORMED_CSV")
}

func TestRun_VersionIndex(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scan.BuildVersions = true
	f.wh.AddDataset("p", "TCGA_versioned", nil, publicAccess)
	f.addTableIn("TCGA_versioned", "old_clin_r2", t0, map[string]string{"version": "r2", "status": "current"})
	f.addTableIn("TCGA_versioned", "old_clin_r1", t0, map[string]string{"version": "r1", "status": "archived"})
	f.seed(t, f.cfg.Artifacts.MarkedTablesPath, `{"p":{"TCGA_versioned":{"old_":"new_"}}}`, t0)

	res := f.run(t)
	require.Equal(t, 200, res.Code, res.Message)

	var idx types.VersionIndex
	require.NoError(t, json.Unmarshal([]byte(f.body(t, f.cfg.Artifacts.VersionsPath)), &idx))
	versions, ok := idx["p:TCGA.new_clin"]
	require.True(t, ok, "root missing from %v", idx)
	require.Contains(t, versions, "r2")
	assert.True(t, versions["r2"].IsLatest)
	assert.Equal(t, []string{"p:TCGA_versioned.old_clin_r2"}, versions["r2"].Tables)
	assert.False(t, versions["r1"].IsLatest)
}

func TestRun_VersionIndexWithoutMarkedTables(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scan.BuildVersions = true
	f.addTable("clin_current", t0, map[string]string{"version": "1_0"})

	require.Equal(t, 200, f.run(t).Code)
	var idx types.VersionIndex
	require.NoError(t, json.Unmarshal([]byte(f.body(t, f.cfg.Artifacts.VersionsPath)), &idx))
	assert.True(t, idx["p:TCGA.clin"]["1.0"].IsLatest)
}

func TestRun_MalformedMarkedTables(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scan.BuildVersions = true
	f.seed(t, f.cfg.Artifacts.MarkedTablesPath, `[1,2`, t0)

	res := f.run(t)
	assert.Equal(t, 500, res.Code)
	assert.Contains(t, res.Message, "MALFORMED_JSON")
	assert.False(t, f.exists(f.cfg.Artifacts.MetadataPath))
}

type failingPutStore struct {
	*storage.MemoryStore
}

func (s failingPutStore) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, storage.ErrUploadFailed
}

func TestRun_UploadFailure(t *testing.T) {
	f := newFixture(t)
	f.addTable("a", t0, nil)

	res := f.runWith(t, failingPutStore{f.store})
	assert.Equal(t, 500, res.Code)
	assert.Contains(t, res.Message, "UPLOAD_FAILED")
}

type panickingStore struct {
	*storage.MemoryStore
}

func (s panickingStore) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	panic("bucket handle is nil")
}

func TestRun_RecoversPanics(t *testing.T) {
	f := newFixture(t)

	res := f.runWith(t, panickingStore{f.store})
	assert.Equal(t, 500, res.Code)
	assert.Contains(t, res.Message, "PANIC")
	assert.Contains(t, res.Message, "bucket handle is nil")
}

func TestRun_CountsResults(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 200, f.run(t).Code)
	require.Equal(t, 500, f.runWith(t, panickingStore{f.store}).Code)

	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "bqmeta_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		observability.ResultSuccess: 1,
		observability.ResultFailure: 1,
	}, got)
}

func TestResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(Result{Code: 200, Message: "ok"}))
	assert.JSONEq(t, `{"code":200,"message":"ok"}`, buf.String())
}
