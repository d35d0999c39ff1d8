package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinisync/clinisync/internal/config"
	"github.com/clinisync/clinisync/internal/remote"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending local changes upstream once",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)
	if cfg.Remote.BaseURL == "" {
		return errors.New("no remote configured: set remote.base_url or CLINISYNC_REMOTE_URL")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := newEngine(cfg, db)
	if err != nil {
		return err
	}

	stats, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	out := cmd.OutOrStdout()
	if stats.Bundles == 0 {
		fmt.Fprintln(out, "Nothing to sync.")
		return nil
	}
	fmt.Fprintf(out, "Bundles: %d  succeeded: %d  failed: %d  changes acked: %d  (%s)\n",
		stats.Bundles, stats.Succeeded, stats.Failed, stats.Acked,
		stats.Duration.Round(time.Millisecond))
	if stats.Failed > 0 {
		return fmt.Errorf("%d bundle(s) rejected, changes kept for retry", stats.Failed)
	}
	return nil
}

func newDataSource(cfg *config.Config) remote.DataSource {
	return remote.NewHTTPDataSource(cfg.Remote.BaseURL, cfg.Remote.APIKey,
		time.Duration(cfg.Remote.Timeout))
}
