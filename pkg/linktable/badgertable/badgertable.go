// Package badgertable stores link records in an embedded badger database,
// keyed by CID bytes with CBOR values.
package badgertable

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/storacha/linkdex/pkg/linktable"
)

var log = logging.Logger("pkg/linktable/badgertable")

// badgerLogger routes badger's own logging to go-log.
type badgerLogger struct {
	*logging.ZapEventLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

type Table struct {
	db *badger.DB
}

var _ linktable.Table = (*Table)(nil)

// Open opens, creating if needed, the badger database in dir.
func Open(dir string) (*Table, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(badgerLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("opening badger database %s: %w", dir, err)
	}
	return &Table{db: db}, nil
}

func (t *Table) Close() error {
	return t.db.Close()
}

func (t *Table) BatchPut(ctx context.Context, records []linktable.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			data, err := linktable.MarshalCBOR(r)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", r.CID, err)
			}
			if err := txn.Set(r.CID.Bytes(), data); err != nil {
				return fmt.Errorf("writing %s: %w", r.CID, err)
			}
		}
		return nil
	})
}

func (t *Table) Get(ctx context.Context, c cid.Cid) (rec linktable.Record, err error) {
	if err := ctx.Err(); err != nil {
		return linktable.Record{}, err
	}
	err = t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.Bytes())
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", c, linktable.ErrNotFound)
			}
			return fmt.Errorf("reading %s: %w", c, err)
		}
		return item.Value(func(val []byte) error {
			rec, err = linktable.UnmarshalCBOR(c, val)
			return err
		})
	})
	return rec, err
}
