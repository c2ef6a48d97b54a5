package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/config"
	"github.com/storacha/linkdex/pkg/grouping"
	"github.com/storacha/linkdex/pkg/linktable"
	"github.com/storacha/linkdex/pkg/linktable/badgertable"
	"github.com/storacha/linkdex/pkg/linktable/dstable"
	"github.com/storacha/linkdex/pkg/linktable/sqltable"
	"github.com/storacha/linkdex/pkg/pipeline"
	"github.com/storacha/linkdex/pkg/reporter"
	"github.com/storacha/linkdex/pkg/store"
	"github.com/storacha/linkdex/pkg/store/fsstore"
)

func newIngestor(c config.Config, s store.Store) *carstream.Ingestor {
	return carstream.New(s,
		carstream.WithMaxTries(c.Retry.MaxTries),
		carstream.WithInitialInterval(c.Retry.InitialInterval),
	)
}

// openIngestor opens the configured bucket and wraps it in an ingestor.
func openIngestor(c config.Config) (*carstream.Ingestor, error) {
	s, err := fsstore.Open(c.Store.Root, c.Store.Bucket)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return newIngestor(c, s), nil
}

// newReporters returns the reporters consulted for a root CID, in order.
func newReporters(c config.Config, in *carstream.Ingestor) ([]reporter.Reporter, error) {
	order, err := grouping.ParseOrder(c.Reporter.Order)
	if err != nil {
		return nil, err
	}
	return []reporter.Reporter{
		reporter.NewComplete(in),
		reporter.NewRaw(in,
			reporter.WithConcurrency(c.Reporter.Concurrency),
			reporter.WithMaxGroups(c.Reporter.MaxGroups),
			reporter.WithOrder(order),
		),
	}, nil
}

// resolver opens buckets named in archive notifications under the store root.
func resolver(c config.Config) pipeline.Resolver {
	return func(bucket string) (store.Store, error) {
		return fsstore.Open(c.Store.Root, bucket)
	}
}

// openTable opens the configured link table. The returned func releases it.
func openTable(ctx context.Context, c config.TableConfig) (linktable.Table, func() error, error) {
	switch c.Driver {
	case "sqlite", "postgres":
		if c.Driver == "sqlite" {
			if err := os.MkdirAll(filepath.Dir(c.URL), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		t, err := sqltable.Open(ctx, sqltable.Dialect(c.Driver), c.URL)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	case "badger":
		t, err := badgertable.Open(c.URL)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	case "datastore":
		log.Warn("datastore link table is held in memory and lost on exit")
		return dstable.New(dssync.MutexWrap(datastore.NewMapDatastore())), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported link table driver %q", c.Driver)
	}
}

func newPipeline(c config.Config, table linktable.Table, opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{
		pipeline.WithBatchSize(c.Table.BatchSize),
		pipeline.WithRetry(c.Retry.MaxTries, c.Retry.InitialInterval),
	}, opts...)
	return pipeline.New(resolver(c), table, opts...)
}
