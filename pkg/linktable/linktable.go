// Package linktable persists the links of ingested blocks, keyed by CID.
package linktable

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// DefaultBatchSize is the most records written in one batch.
const DefaultBatchSize = 25

var ErrNotFound = errors.New("link record not found")

// Record is the persisted form of one non-leaf block.
type Record struct {
	CID   cid.Cid
	Bytes []byte
	// Links are the distinct CIDs the block links to.
	Links []cid.Cid
}

// Table is a key-value table of link records.
type Table interface {
	// BatchPut writes records, replacing any existing record for the same
	// CID. It fails as a whole or succeeds as a whole.
	BatchPut(ctx context.Context, records []Record) error
	// Get returns the record for c, or ErrNotFound.
	Get(ctx context.Context, c cid.Cid) (Record, error)
}

// LinkStrings returns the string forms of links.
func LinkStrings(links []cid.Cid) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.String())
	}
	return out
}

// ParseLinks parses the string forms of links.
func ParseLinks(strs []string) ([]cid.Cid, error) {
	out := make([]cid.Cid, 0, len(strs))
	for _, s := range strs {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
