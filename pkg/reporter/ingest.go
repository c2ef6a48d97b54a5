package reporter

import (
	"context"

	"github.com/storacha/linkdex/pkg/bettererrgroup"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/linkdex"
)

// DefaultConcurrency is how many archives of one group are read at once.
const DefaultConcurrency = 10

// indexAll reads every archive in keys into idx, at most concurrency at a
// time.
func indexAll(ctx context.Context, in *carstream.Ingestor, idx *linkdex.Index, keys []string, concurrency int) error {
	eg, ctx := bettererrgroup.WithContext(ctx, concurrency)
	for _, key := range keys {
		eg.Go(func() error {
			_, err := in.IngestKey(ctx, key, idx)
			return err
		})
	}
	return eg.Wait()
}
