package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/grouping"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/store"
)

// Siblings reports on the archives that share a directory with one known
// archive key. The archives are indexed together without a declared root.
type Siblings struct {
	ingestor    *carstream.Ingestor
	concurrency int
}

func NewSiblings(in *carstream.Ingestor, concurrency int) *Siblings {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Siblings{ingestor: in, concurrency: concurrency}
}

// ValidateKey checks that key has the form raw/<root>/<uploader>/<file>.car.
func ValidateKey(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	if !strings.HasPrefix(key, "raw/") || !store.IsCAR(key) || len(strings.Split(key, "/")) != 4 {
		return fmt.Errorf("%w: %s", ErrForbiddenKey, key)
	}
	return nil
}

// ReportForKey indexes every archive next to key. Keys that are malformed or
// absent from the store are forbidden.
func (s *Siblings) ReportForKey(ctx context.Context, key string) (Report, error) {
	if err := ValidateKey(key); err != nil {
		return Report{}, err
	}
	ctx, span := tracer.Start(ctx, "siblings-report", trace.WithAttributes(
		attribute.String("archive.key", key),
	))
	defer span.End()

	st := s.ingestor.Store()
	if _, err := st.Head(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Report{}, fmt.Errorf("%w: %s", ErrForbiddenKey, key)
		}
		return Report{}, fmt.Errorf("checking %s: %w", key, err)
	}

	dir := grouping.GroupKey(key)
	objects, err := store.ListCARs(ctx, st, dir)
	if err != nil {
		return Report{}, fmt.Errorf("listing siblings: %w", err)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		if grouping.GroupKey(o.Key) == dir {
			keys = append(keys, o.Key)
		}
	}

	idx := linkdex.NewIndex()
	if err := indexAll(ctx, s.ingestor, idx, keys, s.concurrency); err != nil {
		return Report{}, fmt.Errorf("indexing siblings of %s: %w", key, err)
	}
	return newReport(st, idx, keys...), nil
}
