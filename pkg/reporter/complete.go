package reporter

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/linkdex"
)

// CompleteKey is the key of the archive expected to hold the whole DAG for
// root: complete/<root as base32 CIDv1>.car.
func CompleteKey(root cid.Cid) string {
	v1 := cid.NewCidV1(root.Type(), root.Hash())
	return "complete/" + v1.Encode(multibase.MustNewEncoder(multibase.Base32)) + ".car"
}

// Complete reports on the single archive at [CompleteKey]. Such archives
// should be complete by construction; they are indexed anyway to verify.
type Complete struct {
	ingestor *carstream.Ingestor
}

var _ Reporter = (*Complete)(nil)

func NewComplete(in *carstream.Ingestor) *Complete {
	return &Complete{ingestor: in}
}

func (c *Complete) Report(ctx context.Context, root cid.Cid) (Report, error) {
	key := CompleteKey(root)
	ctx, span := tracer.Start(ctx, "complete-report", trace.WithAttributes(
		attribute.String("archive.key", key),
	))
	defer span.End()

	if _, err := c.ingestor.Store().Head(ctx, key); err != nil {
		return Report{}, fmt.Errorf("checking complete archive: %w", err)
	}

	idx := linkdex.NewIndex()
	idx.DeclareRoot(root)
	if _, err := c.ingestor.IngestKey(ctx, key, idx); err != nil {
		return Report{}, err
	}
	report := newReport(c.ingestor.Store(), idx, key)
	span.SetAttributes(attribute.String("structure", report.Structure.String()))
	return report, nil
}
