package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/query"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the leasevault database with the required schema.

This creates the landlord, property, tenant and document tables. It is safe
to run multiple times - tables are only created if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("initializing database", "dsn", redactDSN(cfg.DatabaseDSN()))

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		version, err := s.SchemaVersion(cmd.Context())
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		logger.Info("database initialized successfully", "dialect", s.Dialect(), "schema_version", version)

		stats, err := query.NewSQLEngine(s.DB()).Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		fmt.Printf("Database: %s\n", redactDSN(cfg.DatabaseDSN()))
		printStats(stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
