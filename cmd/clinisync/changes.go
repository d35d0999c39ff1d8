package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var changesJSONOutput bool

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List pending local changes in ledger order",
	Args:  cobra.NoArgs,
	RunE:  runChanges,
}

func init() {
	changesCmd.Flags().BoolVar(&changesJSONOutput, "json", false, "Output in JSON format")
}

func runChanges(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, db, err := loadQuiet()
	if err != nil {
		return err
	}
	defer db.Close()

	changes, err := db.AllChanges(ctx)
	if err != nil {
		return fmt.Errorf("list changes: %w", err)
	}

	out := cmd.OutOrStdout()
	if changesJSONOutput {
		items := make([]map[string]any, len(changes))
		for i, c := range changes {
			items[i] = map[string]any{
				"id":            c.ID,
				"type":          c.Type,
				"resource_type": c.ResourceType,
				"resource_id":   c.ResourceID,
				"timestamp":     c.Timestamp,
			}
		}
		return printJSON(out, map[string]any{
			"changes": items,
			"total":   len(items),
		})
	}

	if len(changes) == 0 {
		fmt.Fprintln(out, "No pending changes.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tRESOURCE\tCREATED")
	for _, c := range changes {
		fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\n",
			c.ID, c.Type, c.ResourceType, c.ResourceID,
			c.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
