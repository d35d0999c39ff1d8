package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/clinisync/clinisync/internal/store"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending change count and last sync time",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, db, err := loadQuiet()
	if err != nil {
		return err
	}
	defer db.Close()

	pending, err := db.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("pending count: %w", err)
	}
	lastSync, _ := db.GetSyncMeta(ctx, store.SyncMetaLastSyncAt)

	out := cmd.OutOrStdout()
	if statusJSONOutput {
		return printJSON(out, map[string]any{
			"database":        cfg.Database.Path,
			"pending_changes": pending,
			"last_sync_at":    lastSync,
		})
	}

	fmt.Fprintf(out, "Database:        %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Pending changes: %d\n", pending)
	if lastSync == "" {
		lastSync = "never"
	}
	fmt.Fprintf(out, "Last sync:       %s\n", lastSync)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
