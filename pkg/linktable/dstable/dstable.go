// Package dstable stores link records in a go-datastore, CBOR encoded under
// /links/<cid>.
package dstable

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"

	"github.com/storacha/linkdex/pkg/linktable"
)

var prefix = datastore.NewKey("links")

type Table struct {
	ds datastore.Batching
}

var _ linktable.Table = (*Table)(nil)

func New(ds datastore.Batching) *Table {
	return &Table{ds: ds}
}

func key(c cid.Cid) datastore.Key {
	return prefix.ChildString(c.String())
}

func (t *Table) BatchPut(ctx context.Context, records []linktable.Record) error {
	batch, err := t.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	for _, r := range records {
		data, err := linktable.MarshalCBOR(r)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", r.CID, err)
		}
		if err := batch.Put(ctx, key(r.CID), data); err != nil {
			return fmt.Errorf("writing %s: %w", r.CID, err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (t *Table) Get(ctx context.Context, c cid.Cid) (linktable.Record, error) {
	data, err := t.ds.Get(ctx, key(c))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return linktable.Record{}, fmt.Errorf("%s: %w", c, linktable.ErrNotFound)
		}
		return linktable.Record{}, fmt.Errorf("reading %s: %w", c, err)
	}
	return linktable.UnmarshalCBOR(c, data)
}
