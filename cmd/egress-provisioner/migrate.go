package main

import (
	"log/slog"

	"github.com/open-sspm/egress-provisioner/internal/audit"
	"github.com/open-sspm/egress-provisioner/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Apply the audit store schema migrations.",
	Args:        cobra.NoArgs,
	Annotations: structuredLog(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAuditOnly()
		if err != nil {
			return err
		}

		changed, err := audit.Migrate(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if !changed {
			slog.Info("no changes to apply")
			return nil
		}
		slog.Info("migrations applied successfully")
		return nil
	},
}
