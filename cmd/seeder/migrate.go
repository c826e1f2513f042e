package main

import (
	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return db.Migrate(cmd.Context(), sqlDB, log)
	},
}
