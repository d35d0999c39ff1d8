// Package store implements the SQLite-backed clinical record store: keyed
// CRUD over canonical resource bodies, a per-parameter search index, and the
// local change ledger capturing every mutation for later upload.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/patch"
	"github.com/clinisync/clinisync/internal/search"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the SQLite-backed record database.
type SQLiteStore struct {
	db       *sql.DB
	registry *search.Registry
	clock    func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs
// migrations. The registry drives both index extraction and search
// compilation and must not change after construction.
func NewSQLiteStore(dbPath string, registry *search.Registry) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, registry: registry, clock: time.Now}
	if err := s.ensureSourceID(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure source id: %w", err)
	}
	return s, nil
}

// ensureSourceID assigns this store a stable identity on first open. The id
// travels with status reports so a server can tell devices apart.
func (s *SQLiteStore) ensureSourceID(ctx context.Context) error {
	_, err := s.GetSyncMeta(ctx, SyncMetaSourceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.SetSyncMeta(ctx, SyncMetaSourceID, ulid.Make().String())
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves a resource by type and id.
func (s *SQLiteStore) Get(ctx context.Context, resourceType, resourceID string) (*model.Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_type, resource_id, body, version_id, last_updated_remote
		FROM resources
		WHERE resource_type = ? AND resource_id = ?
	`, resourceType, resourceID)

	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	return res, nil
}

// Insert stores a new local resource and appends an INSERT change to the
// ledger, atomically. Fails with ErrAlreadyExists if the id is taken.
func (s *SQLiteStore) Insert(ctx context.Context, resourceType, resourceID string, body json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resources WHERE resource_type = ? AND resource_id = ?`,
		resourceType, resourceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check existing resource: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%s/%s: %w", resourceType, resourceID, ErrAlreadyExists)
	}

	now := s.clock().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (resource_type, resource_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, resourceType, resourceID, string(body), now, now)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}

	if err := s.writeIndex(ctx, tx, resourceType, resourceID, body); err != nil {
		return err
	}

	if _, err := appendChangeTx(ctx, tx, model.LocalChange{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Type:         model.ChangeTypeInsert,
		Payload:      body,
		Timestamp:    s.clock().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Update replaces a resource's body, recording the structured diff against
// the previous body as an UPDATE ledger entry. A no-op when the bodies are
// identical. Fails with ErrNotFound before any write when the resource does
// not exist.
func (s *SQLiteStore) Update(ctx context.Context, resourceType, resourceID string, body json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT resource_type, resource_id, body, version_id, last_updated_remote
		FROM resources
		WHERE resource_type = ? AND resource_id = ?
	`, resourceType, resourceID)
	current, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", resourceType, resourceID, ErrNotFound)
		}
		return fmt.Errorf("scan resource: %w", err)
	}

	ops, err := patch.Diff(current.Body, body)
	if err != nil {
		return fmt.Errorf("diff resource: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	payload, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	now := s.clock().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		UPDATE resources SET body = ?, updated_at = ?
		WHERE resource_type = ? AND resource_id = ?
	`, string(body), now, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}

	if err := s.writeIndex(ctx, tx, resourceType, resourceID, body); err != nil {
		return err
	}

	if _, err := appendChangeTx(ctx, tx, model.LocalChange{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Type:         model.ChangeTypeUpdate,
		Payload:      payload,
		VersionID:    current.VersionID,
		Timestamp:    s.clock().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Delete removes a resource and its index rows and appends a DELETE ledger
// entry, atomically.
func (s *SQLiteStore) Delete(ctx context.Context, resourceType, resourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var versionID string
	err = tx.QueryRowContext(ctx,
		`SELECT version_id FROM resources WHERE resource_type = ? AND resource_id = ?`,
		resourceType, resourceID).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", resourceType, resourceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load resource version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM resources WHERE resource_type = ? AND resource_id = ?`,
		resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}

	if err := deleteIndex(ctx, tx, resourceType, resourceID); err != nil {
		return err
	}

	if _, err := appendChangeTx(ctx, tx, model.LocalChange{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Type:         model.ChangeTypeDelete,
		VersionID:    versionID,
		Timestamp:    s.clock().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertRemote batch-upserts resources confirmed by the remote server.
// No ledger entries are written; these are not local edits.
func (s *SQLiteStore) InsertRemote(ctx context.Context, resources ...model.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.clock().UTC().Format(time.RFC3339Nano)
	for i := range resources {
		r := &resources[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO resources (resource_type, resource_id, body, version_id, last_updated_remote, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(resource_type, resource_id) DO UPDATE SET
				body = excluded.body,
				version_id = excluded.version_id,
				last_updated_remote = excluded.last_updated_remote,
				updated_at = excluded.updated_at
		`, r.ResourceType, r.ResourceID, string(r.Body), r.VersionID,
			formatNullableTime(r.LastUpdatedRemote), now, now)
		if err != nil {
			return fmt.Errorf("upsert remote resource %s/%s: %w", r.ResourceType, r.ResourceID, err)
		}
		if err := s.writeIndex(ctx, tx, r.ResourceType, r.ResourceID, r.Body); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateVersionMeta records the remote-confirmed version id and last-updated
// timestamp after a successful upload round-trip.
func (s *SQLiteStore) UpdateVersionMeta(ctx context.Context, resourceType, resourceID, versionID string, lastUpdated *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET version_id = ?, last_updated_remote = ?
		WHERE resource_type = ? AND resource_id = ?
	`, versionID, formatNullableTime(lastUpdated), resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("update version meta: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		// The resource may have been deleted locally since the upload
		// started; stale metadata is not an error.
		slog.Debug("version meta update matched no rows",
			"resource_type", resourceType, "resource_id", resourceID)
	}
	return nil
}

// Search compiles the spec against the registry and executes it, returning
// matching resources in the spec's deterministic order.
func (s *SQLiteStore) Search(ctx context.Context, spec *search.Spec) ([]model.Resource, error) {
	q, err := search.Compile(spec, s.registry, search.WithClock(s.clock))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}
	defer rows.Close()

	out := make([]model.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// scanResource scans a resources row, handling nullable remote metadata.
func scanResource(scanner interface{ Scan(...any) error }) (*model.Resource, error) {
	var res model.Resource
	var body string
	var lastUpdated sql.NullString

	if err := scanner.Scan(&res.ResourceType, &res.ResourceID, &body, &res.VersionID, &lastUpdated); err != nil {
		return nil, err
	}

	res.Body = json.RawMessage(body)
	if lastUpdated.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastUpdated.String); err == nil {
			res.LastUpdatedRemote = &t
		}
	}
	return &res, nil
}

// formatNullableTime converts a time pointer to a sql-friendly value.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
