// Package pipeline indexes newly stored archives and persists the links of
// their blocks to a link table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/cenkalti/backoff/v5"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/pkg/bus"
	"github.com/storacha/linkdex/pkg/bus/events"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/linktable"
	"github.com/storacha/linkdex/pkg/store"
)

var (
	log    = logging.Logger("pkg/pipeline")
	tracer = otel.Tracer("pipeline")
)

// ErrMissingBlock means a link entry was about to be persisted without the
// block bytes it was decoded from. It indicates a bug, not bad input.
var ErrMissingBlock = errors.New("missing block for link entry")

// Resolver returns the store holding a bucket's objects.
type Resolver func(bucket string) (store.Store, error)

// Result describes one processed archive.
type Result struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Blocks  int    `json:"blocks"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

type Pipeline struct {
	resolve         Resolver
	table           linktable.Table
	bus             bus.Publisher
	batchSize       int
	maxTries        uint
	initialInterval time.Duration
}

type Option func(*Pipeline)

// WithBatchSize caps the records written per batch.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithRetry sets the attempts made for each archive read and each batch
// write, and the delay before the first retry.
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(p *Pipeline) {
		if maxTries > 0 {
			p.maxTries = maxTries
		}
		if initialInterval > 0 {
			p.initialInterval = initialInterval
		}
	}
}

func WithEventBus(b bus.Publisher) Option {
	return func(p *Pipeline) {
		p.bus = b
	}
}

func New(resolve Resolver, table linktable.Table, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolve:         resolve,
		table:           table,
		bus:             &bus.NoopBus{},
		batchSize:       linktable.DefaultBatchSize,
		maxTries:        carstream.DefaultMaxTries,
		initialInterval: carstream.DefaultInitialInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle indexes every created archive announced in evt. A failing archive
// does not stop the others; all failures are joined into the returned error.
func (p *Pipeline) Handle(ctx context.Context, evt lambdaevents.SNSEvent) ([]Result, error) {
	records := Created(ExtractRecords(evt))
	log.Infow("handling archive notifications", "records", len(records))

	var (
		results []Result
		errs    []error
	)
	for _, r := range records {
		res, err := p.IndexArchive(ctx, r.S3.Bucket.Name, objectKey(r))
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// IndexArchive indexes one archive and writes a record for each of its
// non-leaf blocks.
func (p *Pipeline) IndexArchive(ctx context.Context, bucket, key string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "index-archive", trace.WithAttributes(
		attribute.String("archive.bucket", bucket),
		attribute.String("archive.key", key),
	))
	defer span.End()

	start := time.Now()
	res = Result{Bucket: bucket, Key: key}
	topic := events.TopicArchive(bucket)
	view := func(state events.ArchiveState) events.ArchiveView {
		return events.ArchiveView{Bucket: bucket, Key: key, State: state, Blocks: res.Blocks, Records: res.Records, Elapsed: time.Since(start), Err: err}
	}
	defer func() {
		if err != nil {
			res.Error = err.Error()
			span.RecordError(err)
			log.Errorw("failed to index archive", "bucket", bucket, "key", key, "error", err)
			p.bus.Publish(topic, view(events.Failed))
		}
	}()

	s, err := p.resolve(bucket)
	if err != nil {
		return res, fmt.Errorf("resolving bucket %s: %w", bucket, err)
	}
	p.bus.Publish(topic, view(events.Indexing))

	idx := linkdex.NewIndex()
	captured := newCapture(idx)
	in := carstream.New(s, carstream.WithMaxTries(p.maxTries), carstream.WithInitialInterval(p.initialInterval))
	stats, err := in.IngestKey(ctx, key, captured)
	if err != nil {
		return res, err
	}
	res.Blocks = stats.Blocks
	p.bus.Publish(topic, view(events.Indexed))

	records, err := BuildRecords(idx.Links(), captured.payload)
	if err != nil {
		return res, fmt.Errorf("building records for %s: %w", store.Location(s, key), err)
	}
	if err := p.write(ctx, records); err != nil {
		return res, fmt.Errorf("writing records for %s: %w", store.Location(s, key), err)
	}
	res.Records = len(records)
	span.SetAttributes(attribute.Int("archive.blocks", res.Blocks), attribute.Int("archive.records", res.Records))
	log.Infow("indexed archive", "bucket", bucket, "key", key, "blocks", res.Blocks, "records", res.Records, "elapsed", time.Since(start))
	p.bus.Publish(topic, view(events.Written))
	return res, nil
}

// BuildRecords pairs each link entry with the bytes of its block.
func BuildRecords(links iter.Seq2[cid.Cid, []cid.Cid], payload func(cid.Cid) ([]byte, bool)) ([]linktable.Record, error) {
	var records []linktable.Record
	for c, l := range links {
		if linkdex.IsRaw(c) {
			continue
		}
		data, ok := payload(c)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingBlock, c)
		}
		records = append(records, linktable.Record{CID: c, Bytes: data, Links: l})
	}
	return records, nil
}

func (p *Pipeline) write(ctx context.Context, records []linktable.Record) error {
	n := 0
	for batch := range slices.Chunk(records, p.batchSize) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.initialInterval
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, p.table.BatchPut(ctx, batch)
		},
			backoff.WithBackOff(bo),
			backoff.WithMaxTries(p.maxTries),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warnw("retrying batch write", "batch", n, "records", len(batch), "retry_in", next, "error", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("batch %d: %w", n, err)
		}
		n++
	}
	return nil
}

// capture keeps the bytes of non-leaf blocks as they are recorded.
type capture struct {
	idx  *linkdex.Index
	mu   sync.Mutex
	data map[string][]byte
}

func newCapture(idx *linkdex.Index) *capture {
	return &capture{idx: idx, data: map[string][]byte{}}
}

func (c *capture) RecordBlock(blk blocks.Block) {
	if !linkdex.IsRaw(blk.Cid()) {
		c.mu.Lock()
		c.data[blk.Cid().String()] = blk.RawData()
		c.mu.Unlock()
	}
	c.idx.RecordBlock(blk)
}

func (c *capture) payload(k cid.Cid) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[k.String()]
	return data, ok
}
