package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/clinisync/clinisync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending schema migrations from the embedded
// migrations package.
func RunMigrations(db *sql.DB) error {
	// Goose logs to stdout by default, which clobbers CLI output.
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if version, err := goose.GetDBVersion(db); err == nil {
		slog.Debug("schema migrations applied", "version", version)
	}
	return nil
}
