// Package reporter decides whether the archives stored for a root CID hold
// its complete DAG.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/storacha/linkdex/internal/ctxutil"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/store"
)

var (
	log    = logging.Logger("pkg/reporter")
	tracer = otel.Tracer("reporter")
)

var (
	ErrInvalidCID   = errors.New("cid is invalid")
	ErrMissingKey   = errors.New("key query param is required")
	ErrForbiddenKey = errors.New("key is forbidden")
)

// Report describes how complete a DAG is within a set of archives.
type Report struct {
	// Archives are the bucket/key locations of the archives indexed.
	Archives  []string          `json:"archives"`
	Structure linkdex.Structure `json:"structure"`
	linkdex.Summary
}

// NullReport is the report for a root with no archives at all.
func NullReport() Report {
	return Report{Archives: []string{}, Structure: linkdex.Unknown}
}

// Reporter produces a report for a root CID from one source of archives.
type Reporter interface {
	Report(ctx context.Context, root cid.Cid) (Report, error)
}

// ParseRoot parses a root CID from user input.
func ParseRoot(s string) (cid.Cid, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cid.Undef, fmt.Errorf("%w: cid is required", ErrInvalidCID)
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", ErrInvalidCID, err)
	}
	return c, nil
}

// ReportForCID asks each reporter in turn and returns the first Complete
// report. Otherwise it returns the first Partial report, then the first
// Unknown one, and finally the null report. Reporters that fail are skipped.
func ReportForCID(ctx context.Context, root cid.Cid, reporters ...Reporter) (Report, error) {
	ctx, span := tracer.Start(ctx, "report-for-cid", trace.WithAttributes(
		attribute.String("root", root.String()),
	))
	defer span.End()

	var reports []Report
	for i, r := range reporters {
		if err := ctxutil.Err(ctx); err != nil {
			return Report{}, err
		}
		report, err := r.Report(ctx, root)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Debugw("reporter found nothing", "root", root, "reporter", i, "error", err)
			} else {
				log.Errorw("reporter failed", "root", root, "reporter", i, "error", err)
			}
			continue
		}
		if report.Structure == linkdex.Complete {
			span.SetAttributes(attribute.String("structure", report.Structure.String()))
			return report, nil
		}
		reports = append(reports, report)
	}
	if err := ctxutil.Err(ctx); err != nil {
		return Report{}, err
	}
	report := Best(reports)
	span.SetAttributes(attribute.String("structure", report.Structure.String()))
	return report, nil
}

// Best picks the first Complete report, then the first Partial, then the
// first Unknown, falling back to the null report.
func Best(reports []Report) Report {
	for _, want := range []linkdex.Structure{linkdex.Complete, linkdex.Partial, linkdex.Unknown} {
		for _, r := range reports {
			if r.Structure == want {
				return r
			}
		}
	}
	return NullReport()
}

func newReport(s store.Store, idx *linkdex.Index, keys ...string) Report {
	archives := make([]string, 0, len(keys))
	for _, k := range keys {
		archives = append(archives, store.Location(s, k))
	}
	return Report{
		Archives:  archives,
		Structure: idx.Structure(),
		Summary:   idx.Summary(),
	}
}
