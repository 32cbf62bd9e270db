// Package job runs one metadata sync: it refreshes the published table
// metadata when the warehouse has moved on, rebuilds the facet index, and
// converts the join example sheet.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/config"
	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/internal/filters"
	"github.com/bqeco/bqmeta/internal/joins"
	"github.com/bqeco/bqmeta/internal/metadata"
	"github.com/bqeco/bqmeta/internal/observability"
	"github.com/bqeco/bqmeta/internal/storage"
	"github.com/bqeco/bqmeta/internal/warehouse"
	"github.com/bqeco/bqmeta/pkg/types"
)

// Function name reported in result messages; schedulers match on it.
const functionName = "run_bq_metadata_etl"

// Artifact names used in logs and metrics.
const (
	ArtifactMetadata = "metadata"
	ArtifactFilters  = "filters"
	ArtifactVersions = "versions"
	ArtifactJoins    = "joins"
)

const contentTypeJSON = "application/json"

// Request describes what triggered a run. Its contents only affect logging.
type Request struct {
	Trigger string
}

// Result is returned to the trigger.
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// Job holds the collaborators of a run. It is not safe for concurrent Runs;
// triggers serialize them.
type Job struct {
	cfg     *config.Config
	store   storage.Store
	wh      warehouse.Warehouse
	log     *zap.Logger
	metrics *observability.Metrics
}

// New creates a job. A nil logger discards output and nil metrics are
// replaced by a fresh private registry.
func New(cfg *config.Config, store storage.Store, wh warehouse.Warehouse, log *zap.Logger, metrics *observability.Metrics) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Job{cfg: cfg, store: store, wh: wh, log: log, metrics: metrics}
}

// Run executes one sync and never panics. Any failure, including a panic in
// a component, yields code 500 with the error in the message.
func (j *Job) Run(ctx context.Context, req Request) (res Result) {
	runID := uuid.New().String()
	log := j.log.With(zap.String("run_id", runID), zap.String("trigger", req.Trigger))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := bqerrors.Wrap(bqerrors.ErrCategoryInternal, bqerrors.CodePanic, "job panicked", fmt.Errorf("%v", r))
			log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = j.failure(runID, err)
		}
	}()

	log.Info("job started")
	if err := j.run(ctx, log); err != nil {
		log.Error("job failed",
			zap.Error(err),
			zap.String("category", string(bqerrors.GetCategory(err))),
			zap.String("code", bqerrors.GetCode(err)),
			zap.Duration("elapsed", time.Since(start)))
		return j.failure(runID, err)
	}

	log.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	j.metrics.ObserveRun(observability.ResultSuccess)
	return Result{
		Code:    200,
		Message: fmt.Sprintf("Function <%s> ran successfully.", functionName),
		RunID:   runID,
	}
}

func (j *Job) failure(runID string, err error) Result {
	j.metrics.ObserveRun(observability.ResultFailure)
	return Result{
		Code:    500,
		Message: fmt.Sprintf("Function <%s> failed to run: %v", functionName, err),
		RunID:   runID,
	}
}

func (j *Job) run(ctx context.Context, log *zap.Logger) error {
	a := j.cfg.Artifacts

	metaInfo, err := j.lookup(ctx, a.MetadataPath)
	if err != nil {
		return err
	}
	filterInfo, err := j.lookup(ctx, a.FiltersPath)
	if err != nil {
		return err
	}

	rebuildFilters := filterInfo == nil
	rebuildMetadata := metaInfo == nil
	if metaInfo != nil {
		rebuildMetadata = j.stale(ctx, log, metaInfo.Created)
	}

	var tables []types.Descriptor
	if rebuildMetadata {
		tables, err = j.refreshMetadata(ctx, log)
		if err != nil {
			return err
		}
		rebuildFilters = true
	} else {
		log.Info("metadata is up to date", zap.Time("created", metaInfo.Created))
	}

	if rebuildFilters {
		if err := j.refreshFilters(ctx, log, tables); err != nil {
			return err
		}
	}

	if a.ConvertJoins {
		if err := j.refreshJoins(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

// stale runs the staleness check against the published snapshot time. A
// failed check is logged and treated as not stale.
func (j *Job) stale(ctx context.Context, log *zap.Logger, ref time.Time) bool {
	defer j.metrics.Phase("staleness")()

	stale, err := metadata.NewChecker(j.wh, j.scanOptions(), log).Check(ctx, ref)
	if err != nil {
		log.Warn("staleness check failed, keeping published metadata", zap.Error(err))
		return false
	}
	return stale
}

// refreshMetadata rebuilds and publishes the metadata artifact, and the
// version index when enabled. A scan that stops early on a warehouse error
// still publishes what it gathered; a cancelled scan publishes nothing.
func (j *Job) refreshMetadata(ctx context.Context, log *zap.Logger) ([]types.Descriptor, error) {
	defer j.metrics.Phase("metadata")()

	opts := metadata.BuildOptions{
		HandleViews:   j.cfg.Scan.HandleViews,
		BuildVersions: j.cfg.Scan.BuildVersions,
	}
	if opts.BuildVersions {
		marked, err := j.markedTables(ctx, log)
		if err != nil {
			return nil, err
		}
		opts.Marked = marked
	}

	res, err := metadata.NewBuilder(j.wh, j.scanOptions(), opts, log).Build(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, bqerrors.NewInternalError("metadata scan aborted", err)
	}
	if err != nil {
		log.Error("metadata scan stopped early, publishing partial result",
			zap.Error(err),
			zap.Int("tables", len(res.Tables)))
	}
	j.metrics.ObserveScanned(res.Scanned)
	log.Info("metadata built",
		zap.Int("tables", len(res.Tables)),
		zap.Int("scanned", res.Scanned),
		zap.Int("collisions", res.Collisions))

	if err := j.publish(ctx, log, ArtifactMetadata, j.cfg.Artifacts.MetadataPath, res.Tables); err != nil {
		return nil, err
	}
	if opts.BuildVersions {
		if err := j.publish(ctx, log, ArtifactVersions, j.cfg.Artifacts.VersionsPath, res.Versions); err != nil {
			return nil, err
		}
	}
	return res.Tables, nil
}

// refreshFilters rebuilds the facet index from tables, or from the
// published metadata when tables is empty.
func (j *Job) refreshFilters(ctx context.Context, log *zap.Logger, tables []types.Descriptor) error {
	defer j.metrics.Phase("filters")()

	if len(tables) == 0 {
		data, _, err := j.store.Get(ctx, j.cfg.Artifacts.MetadataPath)
		if err != nil {
			return storageError(bqerrors.CodeDownloadFailed, "download "+j.cfg.Artifacts.MetadataPath, err)
		}
		tables, err = types.DecodeDescriptors(bytes.NewReader(data))
		if err != nil {
			return bqerrors.NewInputError(bqerrors.CodeMalformedJSON, "decode "+j.cfg.Artifacts.MetadataPath, err)
		}
		log.Info("loaded published metadata", zap.Int("tables", len(tables)))
	}

	return j.publish(ctx, log, ArtifactFilters, j.cfg.Artifacts.FiltersPath, filters.Build(tables))
}

// refreshJoins converts the join sheet when it changed after the last
// conversion was published.
func (j *Job) refreshJoins(ctx context.Context, log *zap.Logger) error {
	defer j.metrics.Phase("joins")()

	a := j.cfg.Artifacts
	csvInfo, err := j.lookup(ctx, a.JoinsCSVPath)
	if err != nil {
		return err
	}
	if csvInfo == nil {
		log.Info("join sheet absent, skipping conversion", zap.String("key", a.JoinsCSVPath))
		return nil
	}
	jsonInfo, err := j.lookup(ctx, a.JoinsJSONPath)
	if err != nil {
		return err
	}
	if jsonInfo != nil && !csvInfo.Updated.After(jsonInfo.Created) {
		log.Info("join examples are up to date")
		return nil
	}

	data, _, err := j.store.Get(ctx, a.JoinsCSVPath)
	if err != nil {
		return storageError(bqerrors.CodeDownloadFailed, "download "+a.JoinsCSVPath, err)
	}
	conv := joins.Converter{ProjectPrefix: a.JoinsProjectPrefix}
	entries, rows, err := conv.Convert(bytes.NewReader(data))
	if err != nil {
		return err
	}
	log.Info("join examples converted", zap.Int("rows", rows), zap.Int("tables", len(entries)))
	return j.publish(ctx, log, ArtifactJoins, a.JoinsJSONPath, entries)
}

// markedTables loads the version prefix remapping. An absent object means
// no remapping.
func (j *Job) markedTables(ctx context.Context, log *zap.Logger) (types.MarkedTables, error) {
	key := j.cfg.Artifacts.MarkedTablesPath
	marked := types.MarkedTables{}
	if key == "" {
		return marked, nil
	}
	data, _, err := j.store.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		log.Debug("marked table map absent", zap.String("key", key))
		return marked, nil
	}
	if err != nil {
		return nil, storageError(bqerrors.CodeDownloadFailed, "download "+key, err)
	}
	if err := json.Unmarshal(data, &marked); err != nil {
		return nil, bqerrors.NewInputError(bqerrors.CodeMalformedJSON, "decode "+key, err)
	}
	return marked, nil
}

func (j *Job) publish(ctx context.Context, log *zap.Logger, artifact, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return bqerrors.NewInternalError("encode "+artifact, err)
	}
	info, err := j.store.Put(ctx, key, data, storage.PutOptions{
		ContentType: contentTypeJSON,
		Metadata:    map[string]string{storage.MetadataFingerprint: storage.Fingerprint(data)},
	})
	if err != nil {
		return storageError(bqerrors.CodeUploadFailed, "upload "+key, err)
	}
	j.metrics.ObservePublish(artifact)
	log.Info("artifact published",
		zap.String("artifact", artifact),
		zap.String("key", key),
		zap.Int64("bytes", info.Size))
	return nil
}

func (j *Job) lookup(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	info, err := storage.Lookup(ctx, j.store, key)
	if err != nil {
		return nil, storageError(bqerrors.CodeDownloadFailed, "stat "+key, err)
	}
	return info, nil
}

func (j *Job) scanOptions() metadata.ScanOptions {
	opts := metadata.ScanOptions{
		Projects:   j.cfg.Scan.Projects,
		PublicOnly: j.cfg.PublicOnlyFor,
	}
	if j.cfg.Scan.LabelsOnly {
		opts.Label = j.cfg.Scan.ScanLabel
	}
	return opts
}

func storageError(code, message string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		code = bqerrors.CodeObjectNotFound
	}
	return bqerrors.NewStorageError(code, message, err)
}
