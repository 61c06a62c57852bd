package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/dyncomp/internal/journal"
	"github.com/zjrosen/dyncomp/internal/presentation"
)

var (
	historyLimit int
	historyID    string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent builds from the journal",
	Long: `List recent builds recorded in the build journal. With --id, list the
journaled events for one instance identifier instead.

Examples:
  dyncomp history
  dyncomp history --limit 5 --json
  dyncomp history --id pay_submit`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	historyCmd.Flags().StringVar(&historyID, "id", "", "show events for one instance identifier")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if !cfg.Journal.Enabled {
		return fmt.Errorf("the build journal is disabled (journal.enabled: false)")
	}
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	formatter := presentation.NewFormatter(cmd.OutOrStdout())

	if cmd.Flags().Changed("id") {
		entries, err := store.EntriesFor(ctx, historyID, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return formatter.FormatJSON(entries)
		}
		for _, e := range entries {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n",
				e.At.Format("2006-01-02 15:04:05"), e.Kind, e.Payload)
		}
		return nil
	}

	builds, err := store.RecentBuilds(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return formatter.FormatJSON(builds)
	}
	return formatter.FormatBuilds(builds)
}
