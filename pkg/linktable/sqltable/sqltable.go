// Package sqltable stores link records in SQLite or Postgres.
package sqltable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/storacha/linkdex/pkg/linktable"
)

var log = logging.Logger("pkg/linktable/sqltable")

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const (
	upsertQuery = `INSERT INTO links (cid, bytes, links) VALUES (?, ?, ?)
ON CONFLICT (cid) DO UPDATE SET bytes = excluded.bytes, links = excluded.links`
	getQuery = `SELECT cid, bytes, links FROM links WHERE cid = ?`
)

type row struct {
	CID   string `db:"cid"`
	Bytes []byte `db:"bytes"`
	Links string `db:"links"`
}

type Table struct {
	db *sqlx.DB
}

var _ linktable.Table = (*Table)(nil)

// New wraps an already migrated database.
func New(db *sqlx.DB) *Table {
	return &Table{db: db}
}

// Open connects to the database at url and migrates it. For SQLite url is a
// file path; for Postgres it is a connection string.
func Open(ctx context.Context, dialect Dialect, url string) (*Table, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		pragmas := []string{
			"_pragma=journal_mode(WAL)",
			"_pragma=busy_timeout(5000)",
			"_pragma=synchronous(NORMAL)",
		}
		db, err = sqlx.Open("sqlite", fmt.Sprintf("file:%s?%s", url, strings.Join(pragmas, "&")))
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case DialectPostgres:
		db, err = sqlx.Open("postgres", url)
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", dialect, err)
	}
	if err := Migrate(ctx, db.DB, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

func (t *Table) Close() error {
	return t.db.Close()
}

func (t *Table) BatchPut(ctx context.Context, records []linktable.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, t.db.Rebind(upsertQuery))
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		links, err := json.Marshal(linktable.LinkStrings(r.Links))
		if err != nil {
			return fmt.Errorf("encoding links of %s: %w", r.CID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.CID.String(), r.Bytes, string(links)); err != nil {
			return fmt.Errorf("writing %s: %w", r.CID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	log.Debugw("wrote batch", "records", len(records))
	return nil
}

func (t *Table) Get(ctx context.Context, c cid.Cid) (linktable.Record, error) {
	var r row
	if err := t.db.GetContext(ctx, &r, t.db.Rebind(getQuery), c.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return linktable.Record{}, fmt.Errorf("%s: %w", c, linktable.ErrNotFound)
		}
		return linktable.Record{}, fmt.Errorf("reading %s: %w", c, err)
	}
	var strs []string
	if err := json.Unmarshal([]byte(r.Links), &strs); err != nil {
		return linktable.Record{}, fmt.Errorf("decoding links of %s: %w", c, err)
	}
	links, err := linktable.ParseLinks(strs)
	if err != nil {
		return linktable.Record{}, fmt.Errorf("parsing links of %s: %w", c, err)
	}
	return linktable.Record{CID: c, Bytes: r.Bytes, Links: links}, nil
}
