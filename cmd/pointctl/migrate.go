package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congo-pay/pointledger/internal/config"
	"github.com/congo-pay/pointledger/internal/infra"
	"github.com/congo-pay/pointledger/internal/migration"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "Print the applied schema version instead of migrating")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := infra.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if status, _ := cmd.Flags().GetBool("status"); !status {
		if err := migration.Run(db); err != nil {
			return err
		}
	}

	version, dirty, err := migration.Version(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
