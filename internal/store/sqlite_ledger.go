package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinisync/clinisync/internal/model"
)

const insertChangeSQL = `
	INSERT INTO local_changes (resource_type, resource_id, type, payload, version_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// changeArgs returns the SQL arguments for inserting a LocalChange.
func changeArgs(c *model.LocalChange) []any {
	return []any{
		c.ResourceType, c.ResourceID, string(c.Type),
		nullablePayload(c.Payload), c.VersionID,
		c.Timestamp.Format(time.RFC3339Nano),
	}
}

// appendChangeTx appends a ledger entry within an existing transaction and
// returns the assigned monotonic id.
func appendChangeTx(ctx context.Context, tx *sql.Tx, change model.LocalChange) (int64, error) {
	result, err := tx.ExecContext(ctx, insertChangeSQL, changeArgs(&change)...)
	if err != nil {
		return 0, fmt.Errorf("append local change: %w", err)
	}
	return result.LastInsertId()
}

// AppendChange appends a single ledger entry outside any store mutation.
// Store mutations append their own entries transactionally; this entry point
// exists for replaying externally captured changes.
func (s *SQLiteStore) AppendChange(ctx context.Context, change model.LocalChange) (int64, error) {
	result, err := s.db.ExecContext(ctx, insertChangeSQL, changeArgs(&change)...)
	if err != nil {
		return 0, fmt.Errorf("append local change: %w", err)
	}
	return result.LastInsertId()
}

// AllChanges returns every pending ledger entry ordered by id. Callers use
// the returned slice as the snapshot for one sync pass; entries appended
// afterwards are picked up on the next pass.
func (s *SQLiteStore) AllChanges(ctx context.Context) ([]model.LocalChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_type, resource_id, type, payload, version_id, created_at
		FROM local_changes
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query local changes: %w", err)
	}
	defer rows.Close()

	changes := make([]model.LocalChange, 0)
	for rows.Next() {
		var c model.LocalChange
		var payload sql.NullString
		var changeType, createdAt string

		if err := rows.Scan(&c.ID, &c.ResourceType, &c.ResourceID, &changeType,
			&payload, &c.VersionID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan local change: %w", err)
		}

		c.Type = model.ChangeType(changeType)
		if payload.Valid {
			c.Payload = []byte(payload.String)
		}
		var parseErr error
		if c.Timestamp, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("local_changes: failed to parse created_at", "value", createdAt, "error", parseErr)
		}

		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// PendingCount returns the number of ledger entries awaiting upload.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM local_changes`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count local changes: %w", err)
	}
	return count, nil
}

// DeleteByToken removes exactly the ledger entries the token covers.
// Entries appended concurrently keep their ids outside the token's set and
// are never touched. Already-deleted ids are an idempotent no-op.
func (s *SQLiteStore) DeleteByToken(ctx context.Context, token model.ChangeToken) error {
	ids := token.IDs()
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM local_changes WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("delete ledger entries: %w", err)
	}
	return nil
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}

// Sync meta keys.
const (
	SyncMetaSchemaVersion = "schema_version"
	SyncMetaSourceID      = "source_id"
	SyncMetaLastSyncAt    = "last_sync_at"
)

// nullablePayload converts a payload to a sql-friendly value.
// Returns nil for empty payloads, string otherwise.
func nullablePayload(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
