package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/remote"
	"github.com/clinisync/clinisync/internal/store"
)

// BundleMode controls how squashed changes are grouped into transactions.
type BundleMode string

const (
	// BundleModeSingle submits every pending change in one atomic
	// transaction.
	BundleModeSingle BundleMode = "single"
	// BundleModePerResource submits one transaction per resource, so an
	// individual rejection leaves the other resources confirmed.
	BundleModePerResource BundleMode = "per-resource"
)

// Engine orchestrates one sync pass: snapshot the ledger, squash, upload,
// apply confirmed metadata, and delete acknowledged ledger entries.
type Engine struct {
	store    *store.SQLiteStore
	uploader *Uploader
	mode     BundleMode
}

// NewEngine wires the pipeline. The generator configuration is validated
// here, before any sync runs.
func NewEngine(st *store.SQLiteStore, source remote.DataSource, cfg GeneratorConfig, mode BundleMode) (*Engine, error) {
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	switch mode {
	case "":
		mode = BundleModeSingle
	case BundleModeSingle, BundleModePerResource:
	default:
		return nil, fmt.Errorf("invalid bundle mode %q", mode)
	}
	return &Engine{
		store:    st,
		uploader: NewUploader(source, gen),
		mode:     mode,
	}, nil
}

// Run executes one sync pass. Upload failures are captured in the returned
// stats, never as an error: failed bundles leave their ledger entries
// pending for the next pass.
func (e *Engine) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	changes, err := e.store.AllChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot ledger: %w", err)
	}

	squashed, cancelled, err := SquashAll(changes)
	if err != nil {
		return nil, fmt.Errorf("squash changes: %w", err)
	}

	// Locally-cancelled histories never reach the server; discard them now.
	for _, token := range cancelled {
		if err := e.store.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to discard cancelled changes", "error", err)
			continue
		}
		stats.Acked += len(token.IDs())
	}

	if len(squashed) > 0 {
		iter := e.uploader.Upload(e.group(squashed))
		for {
			result, ok := iter.Next(ctx)
			if !ok {
				break
			}
			stats.Bundles++
			if result.Success() {
				stats.Succeeded++
				e.applyResult(ctx, result, stats)
			} else {
				stats.Failed++
				slog.Warn("bundle rejected",
					"issues", len(result.Outcome.Issue),
					"diagnostics", firstDiagnostics(result.Outcome),
				)
			}
		}
	}

	if err := e.store.SetSyncMeta(ctx, store.SyncMetaLastSyncAt,
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		slog.Warn("failed to record sync time", "error", err)
	}

	stats.Duration = time.Since(start)
	slog.Info("sync pass completed",
		"bundles", stats.Bundles,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"acked", stats.Acked,
		"duration", stats.Duration,
	)
	return stats, nil
}

// group partitions squashed changes per the configured bundle mode.
func (e *Engine) group(squashed []model.SquashedChange) [][]model.SquashedChange {
	if e.mode == BundleModePerResource {
		groups := make([][]model.SquashedChange, 0, len(squashed))
		for _, sc := range squashed {
			groups = append(groups, []model.SquashedChange{sc})
		}
		return groups
	}
	return [][]model.SquashedChange{squashed}
}

// applyResult records remote-confirmed metadata from a transaction-response
// and deletes the acknowledged ledger entries. Response entries map
// positionally onto the submitted changes.
func (e *Engine) applyResult(ctx context.Context, result *UploadResult, stats *Stats) {
	for i, entry := range result.Bundle.Entry {
		if i >= len(result.Changes) || entry.Response == nil {
			continue
		}
		change := result.Changes[i].Change
		if change.Type == model.ChangeTypeDelete {
			continue
		}
		err := e.store.UpdateVersionMeta(ctx,
			change.ResourceType, change.ResourceID,
			versionFromEtag(entry.Response.Etag), entry.Response.LastModified)
		if err != nil {
			slog.Warn("failed to apply confirmed metadata",
				"resource_type", change.ResourceType,
				"resource_id", change.ResourceID,
				"error", err,
			)
		}
	}

	for _, token := range result.Tokens {
		if err := e.store.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to delete acknowledged changes", "error", err)
			continue
		}
		stats.Acked += len(token.IDs())
	}
}

// versionFromEtag unwraps a weak-validator etag like `W/"3"`.
func versionFromEtag(etag string) string {
	v := strings.TrimPrefix(etag, "W/")
	return strings.Trim(v, `"`)
}

func firstDiagnostics(outcome *model.OperationOutcome) string {
	if outcome == nil || len(outcome.Issue) == 0 {
		return ""
	}
	return outcome.Issue[0].Diagnostics
}
