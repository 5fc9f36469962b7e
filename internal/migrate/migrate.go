// Package migrate applies the embedded schema migrations in lexical order.
// Each file starts with a --sql marker so it runs through infra.SQLRunner
// like every other statement.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"creditjobs/internal/infra"
	"creditjobs/internal/sqlinline"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run applies every pending migration shipped with the binary.
func Run(ctx context.Context, db infra.TxExecutor, logger zerolog.Logger) ([]string, error) {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	return Apply(ctx, db, sub, logger)
}

// Apply runs the *.sql files of fsys that are not recorded in
// schema_migrations yet and returns the versions it applied. A migration and
// its bookkeeping row commit together.
func Apply(ctx context.Context, db infra.TxExecutor, fsys fs.FS, logger zerolog.Logger) ([]string, error) {
	if _, err := db.Exec(ctx, sqlinline.QMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var applied []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(e.Name(), ".sql")

		var exists bool
		if err := db.QueryRow(ctx, sqlinline.QMigrationApplied, version).Scan(&exists); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", version, err)
		}

		err = db.InTx(ctx, func(tx infra.SQLExecutor) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, sqlinline.QMigrationRecord, version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", version, err)
		}
		logger.Info().Str("version", version).Msg("applied migration")
		applied = append(applied, version)
	}
	return applied, nil
}
