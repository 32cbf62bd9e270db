package metadata

import (
	"context"

	"go.uber.org/zap"

	"github.com/bqeco/bqmeta/internal/warehouse"
	"github.com/bqeco/bqmeta/pkg/types"
)

// strippedFields are removed from every descriptor before publishing.
var strippedFields = []string{
	"kind",
	"etag",
	"selfLink",
	"location",
	"numBytes",
	"numLongTermBytes",
	"numTimeTravelPhysicalBytes",
	"numTotalLogicalBytes",
	"numActiveLogicalBytes",
	"numLongTermLogicalBytes",
	"numTotalPhysicalBytes",
	"numActivePhysicalBytes",
	"numLongTermPhysicalBytes",
}

// BuildOptions controls descriptor normalization.
type BuildOptions struct {
	HandleViews   bool
	BuildVersions bool
	Marked        types.MarkedTables
}

// BuildResult is the output of one metadata scan.
type BuildResult struct {
	// Tables holds one descriptor per id in first-seen order.
	Tables []types.Descriptor
	// Versions is empty unless BuildVersions is set.
	Versions types.VersionIndex
	// Scanned counts descriptors fetched, including overwritten duplicates.
	Scanned int
	// Collisions counts ids produced by more than one source table.
	Collisions int
}

// Builder assembles the metadata artifact from the warehouse.
type Builder struct {
	w    walker
	opts BuildOptions
}

// NewBuilder creates a metadata builder.
func NewBuilder(wh warehouse.Warehouse, scan ScanOptions, opts BuildOptions, log *zap.Logger) *Builder {
	return &Builder{w: walker{wh: wh, opts: scan, log: log}, opts: opts}
}

// Build walks every eligible table. On failure it stops and returns the
// tables accumulated so far together with the error.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	set := newTableSet()
	res := &BuildResult{Versions: types.VersionIndex{}}

	err := b.w.walk(ctx, func(t TableRef) error {
		d, err := b.w.wh.GetTable(ctx, t.Project, t.Dataset, t.Table)
		if err != nil {
			return err
		}
		res.Scanned++
		b.normalize(d, res.Versions)
		if set.put(d) {
			res.Collisions++
			b.w.log.Warn("duplicate table id, keeping last",
				zap.String("id", d.ID()),
				zap.String("source", types.TableID(t.Project, t.Dataset, t.Table)))
		}
		return nil
	})
	res.Tables = set.list()
	return res, err
}

// normalize applies view handling, version indexing and field stripping.
func (b *Builder) normalize(d types.Descriptor, versions types.VersionIndex) {
	if b.opts.HandleViews {
		NormalizeView(d)
	}
	if b.opts.BuildVersions {
		if root, version, latest, ok := VersionRoot(d, b.opts.Marked); ok {
			versions.Observe(root, version, d.ID(), latest)
		}
	}
	Strip(d)
}

// Strip removes internal and byte-count fields.
func Strip(d types.Descriptor) {
	for _, k := range strippedFields {
		delete(d, k)
	}
}

// tableSet is an id-keyed map that remembers first insertion order.
type tableSet struct {
	order []string
	byID  map[string]types.Descriptor
}

func newTableSet() *tableSet {
	return &tableSet{byID: make(map[string]types.Descriptor)}
}

// put stores d under its id and reports whether it replaced an entry.
func (s *tableSet) put(d types.Descriptor) bool {
	id := d.ID()
	_, exists := s.byID[id]
	if !exists {
		s.order = append(s.order, id)
	}
	s.byID[id] = d
	return exists
}

func (s *tableSet) list() []types.Descriptor {
	out := make([]types.Descriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
