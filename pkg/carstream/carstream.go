// Package carstream feeds the blocks of CAR archives into a link index.
package carstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	carv2 "github.com/ipld/go-car/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/store"
)

var (
	log    = logging.Logger("pkg/carstream")
	tracer = otel.Tracer("carstream")
)

// ErrMalformedArchive is returned when bytes read from an archive do not form
// a valid CAR.
var ErrMalformedArchive = errors.New("malformed archive")

const (
	DefaultMaxTries        = 3
	DefaultInitialInterval = 100 * time.Millisecond
)

// Stats describes an ingested archive.
type Stats struct {
	// Roots are the roots named in the archive header. They are informational
	// only.
	Roots []cid.Cid
	// Blocks is the number of blocks delivered to the recorder.
	Blocks int
}

// Ingestor reads archives from a store into a [linkdex.Recorder], retrying
// transient read failures.
type Ingestor struct {
	store           store.Store
	maxTries        uint
	initialInterval time.Duration
}

type Option func(*Ingestor)

// WithMaxTries caps the attempts made per archive, including the first.
func WithMaxTries(n uint) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxTries = n
		}
	}
}

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(in *Ingestor) {
		if d > 0 {
			in.initialInterval = d
		}
	}
}

func New(s store.Store, opts ...Option) *Ingestor {
	in := &Ingestor{store: s, maxTries: DefaultMaxTries, initialInterval: DefaultInitialInterval}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Ingestor) Store() store.Store {
	return in.store
}

// IngestKey streams every block of the archive stored under key into rec.
// If reading fails part way through, the archive is re-opened and the blocks
// already delivered are skipped, so each block reaches rec once.
func (in *Ingestor) IngestKey(ctx context.Context, key string, rec linkdex.Recorder) (Stats, error) {
	ctx, span := tracer.Start(ctx, "ingest-archive", trace.WithAttributes(
		attribute.String("archive.bucket", in.store.Bucket()),
		attribute.String("archive.key", key),
	))
	defer span.End()

	delivered := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = in.initialInterval

	stats, err := backoff.Retry(ctx, func() (Stats, error) {
		r, err := in.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Stats{}, backoff.Permanent(err)
			}
			return Stats{}, fmt.Errorf("opening archive: %w", err)
		}
		defer r.Close()

		stats, err := ingest(ctx, r, rec, &delivered)
		if err != nil && (errors.Is(err, ErrMalformedArchive) || ctx.Err() != nil) {
			return stats, backoff.Permanent(err)
		}
		return stats, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(in.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warnw("retrying archive read", "bucket", in.store.Bucket(), "key", key, "delivered", delivered, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, fmt.Errorf("ingesting %s: %w", store.Location(in.store, key), err)
	}
	span.SetAttributes(attribute.Int("archive.blocks", stats.Blocks))
	return stats, nil
}

// Ingest streams every block of the CAR read from r into rec. It does not
// retry.
func Ingest(ctx context.Context, r io.Reader, rec linkdex.Recorder) (Stats, error) {
	delivered := 0
	return ingest(ctx, r, rec, &delivered)
}

// ingest reads r, skipping the first *delivered blocks and advancing
// *delivered for each block handed to rec.
func ingest(ctx context.Context, r io.Reader, rec linkdex.Recorder, delivered *int) (Stats, error) {
	src := &sourceReader{r: r}
	br, err := carv2.NewBlockReader(src)
	if err != nil {
		if src.err != nil {
			return Stats{}, fmt.Errorf("reading header: %w", src.err)
		}
		return Stats{}, fmt.Errorf("%w: reading header: %w", ErrMalformedArchive, err)
	}

	stats := Stats{Roots: br.Roots}
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		blk, err := br.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if src.err != nil {
				return stats, fmt.Errorf("reading block %d: %w", n, src.err)
			}
			return stats, fmt.Errorf("%w: reading block %d: %w", ErrMalformedArchive, n, err)
		}
		if n < *delivered {
			continue
		}
		rec.RecordBlock(blk)
		*delivered++
	}
	stats.Blocks = *delivered
	return stats, nil
}

// sourceReader remembers failures of the underlying stream so they can be
// told apart from parse failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}
