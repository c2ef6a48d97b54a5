package reporter

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/internal/ctxutil"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/grouping"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/store"
)

// DefaultMaxGroups bounds how many ownership groups are indexed per report.
const DefaultMaxGroups = 10

// Raw reports on the archives under raw/<root>/. Archives are grouped by
// uploader and each group is indexed on its own, so that extraneous blocks
// from one uploader cannot make another uploader's complete DAG look partial.
type Raw struct {
	ingestor    *carstream.Ingestor
	concurrency int
	maxGroups   int
	order       grouping.Comparator
}

var _ Reporter = (*Raw)(nil)

type RawOption func(*Raw)

// WithConcurrency sets how many archives of a group are read at once.
func WithConcurrency(n int) RawOption {
	return func(r *Raw) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMaxGroups caps the groups indexed per report. Zero means no cap.
func WithMaxGroups(n int) RawOption {
	return func(r *Raw) {
		if n >= 0 {
			r.maxGroups = n
		}
	}
}

// WithOrder sets the order in which groups are tried.
func WithOrder(cmp grouping.Comparator) RawOption {
	return func(r *Raw) {
		if cmp != nil {
			r.order = cmp
		}
	}
}

func NewRaw(in *carstream.Ingestor, opts ...RawOption) *Raw {
	r := &Raw{
		ingestor:    in,
		concurrency: DefaultConcurrency,
		maxGroups:   DefaultMaxGroups,
		order:       grouping.ByCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RawPrefix is the prefix under which uploaders store archives for root.
func RawPrefix(root cid.Cid) string {
	return "raw/" + root.String() + "/"
}

func (r *Raw) Report(ctx context.Context, root cid.Cid) (Report, error) {
	prefix := RawPrefix(root)
	ctx, span := tracer.Start(ctx, "raw-report", trace.WithAttributes(
		attribute.String("prefix", prefix),
	))
	defer span.End()

	s := r.ingestor.Store()
	objects, err := store.ListCARs(ctx, s, prefix)
	if err != nil {
		return Report{}, fmt.Errorf("listing archives: %w", err)
	}
	if len(objects) == 0 {
		return NullReport(), nil
	}

	groups := grouping.Partition(objects)
	grouping.Sort(groups, r.order)
	if r.maxGroups > 0 && len(groups) > r.maxGroups {
		log.Warnw("too many upload groups, ignoring the rest", "root", root, "groups", len(groups), "max", r.maxGroups)
		groups = groups[:r.maxGroups]
	}
	span.SetAttributes(attribute.Int("groups", len(groups)), attribute.Int("archives", len(objects)))

	first := NullReport()
	for _, g := range groups {
		if err := ctxutil.Err(ctx); err != nil {
			return Report{}, err
		}
		keys := make([]string, 0, len(g.Objects))
		for _, o := range g.Objects {
			keys = append(keys, o.Key)
		}

		idx := linkdex.NewIndex()
		idx.DeclareRoot(root)
		if err := indexAll(ctx, r.ingestor, idx, keys, r.concurrency); err != nil {
			return Report{}, fmt.Errorf("indexing group %s: %w", g.Key, err)
		}

		report := newReport(s, idx, keys...)
		log.Debugw("indexed group", "group", g.Key, "archives", len(keys), "structure", report.Structure)
		if report.Structure == linkdex.Complete {
			return report, nil
		}
		if first.Structure != linkdex.Partial && report.Structure == linkdex.Partial {
			first = report
		}
	}
	// Unknown groups are not reported; with no Partial group the archives
	// found say nothing about the root.
	return first, nil
}
