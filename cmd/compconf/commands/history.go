package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		status string
		since  time.Duration
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [component]",
		Short: "Show recorded validation results",
		Example: `  # Latest validations of every component
  compconf history --db history.db

  # Invalid passes of one component during the last day
  compconf history --db history.db --status INVALID --since 24h invoke`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := stores.ValidationFilter{Limit: limit}
			if len(args) > 0 {
				filter.ComponentID = &args[0]
			}
			if status != "" {
				s := engine.ValidationStatus(status)
				filter.Status = &s
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}

			records, err := store.ListValidations(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VALIDATED\tCOMPONENT\tSTATUS\tRESULTS\tDURATION")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					r.ValidatedAt.Local().Format(time.RFC3339), r.ComponentID, r.Status, r.ResultCount, r.Duration)
			}
			return tw.Flush()
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "compconf.db", "SQLite database path")
	cmd.Flags().StringVar(&status, "status", "", "only show VALID or INVALID passes")
	cmd.Flags().DurationVar(&since, "since", 0, "only show passes newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of passes")

	cmd.AddCommand(newHistoryPruneCommand(&dbPath))

	return cmd
}

func newHistoryPruneCommand(dbPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old validation results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			store, err := openStore(ctx, *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneValidations(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d validation records\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete passes older than this")

	return cmd
}
