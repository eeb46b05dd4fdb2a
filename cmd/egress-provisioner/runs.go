package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/egress-provisioner/internal/audit"
	"github.com/open-sspm/egress-provisioner/internal/config"
	"github.com/spf13/cobra"
)

var (
	runsSlug  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent provisioning runs from the audit store.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAuditOnly()
		if err != nil {
			return err
		}
		limit := runsLimit
		if limit <= 0 {
			limit = cfg.RunsLimit
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := audit.NewStore(pool)
		if err != nil {
			return err
		}
		records, err := store.ListRuns(ctx, audit.ListOptions{Slug: runsSlug, Limit: limit})
		if err != nil {
			return err
		}
		return writeRuns(cmd.OutOrStdout(), records)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsSlug, "slug", "", "only show runs for this connection slug")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 0, "maximum number of runs (default RUNS_LIMIT)")
}

func writeRuns(w io.Writer, records []audit.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSLUG\tPLUGIN\tPATH\tSTATUS\tFAILED STEP\tDURATION")
	for _, r := range records {
		failed := "-"
		if r.FailedStep != "" {
			failed = r.FailedStep
		}
		path := r.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Slug,
			r.PluginFQN,
			path,
			r.Status,
			failed,
			r.Duration().Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
