package sqltable

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationVersionRe = regexp.MustCompile(`^(\d+)_`)

// Dialect is the SQL flavour of the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) goose() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// Migrations reads the embedded migrations, written for SQLite, and adapts
// them to dialect.
func Migrations(dialect Dialect) ([]*goose.Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })

	var migrations []*goose.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationVersionRe.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("migration %q has no version prefix", entry.Name())
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q has an invalid version: %w", entry.Name(), err)
		}
		raw, err := migrationsFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %q: %w", entry.Name(), err)
		}
		up, down := splitGooseSQL(string(raw))
		migrations = append(migrations, goose.NewGoMigration(version, execTx(TransformSQL(up, dialect)), execTx(TransformSQL(down, dialect))))
	}
	return migrations, nil
}

func execTx(stmt string) *goose.GoFunc {
	if stmt == "" {
		return nil
	}
	return &goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}}
}

// splitGooseSQL splits a goose annotated file into its up and down sections.
func splitGooseSQL(content string) (up, down string) {
	var upLines, downLines []string
	var current *[]string
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case "-- +goose Up":
			current = &upLines
		case "-- +goose Down":
			current = &downLines
		case "-- +goose StatementBegin", "-- +goose StatementEnd":
		default:
			if current != nil {
				*current = append(*current, line)
			}
		}
	}
	return strings.TrimSpace(strings.Join(upLines, "\n")), strings.TrimSpace(strings.Join(downLines, "\n"))
}

// TransformSQL adapts SQLite flavoured SQL to dialect. Postgres has no STRICT
// tables and calls blobs BYTEA.
func TransformSQL(stmt string, dialect Dialect) string {
	if dialect != DialectPostgres {
		return stmt
	}
	stmt = strings.ReplaceAll(stmt, ") STRICT;", ");")
	return strings.ReplaceAll(stmt, " BLOB", " BYTEA")
}

// Migrate brings the schema of db up to date.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect.goose(), db, nil, goose.WithGoMigrations(migrations...))
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		log.Infow("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}
