package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/export"
	"github.com/wesm/leasevault/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import the property register from CSV or XLSX",
	Long: `Import landlords, properties and tenants from a .csv or .xlsx file whose
first row names the columns, for example:

  Property ID, Landlord ID, Flat number, Address, Post code, City,
  Units in building, First name, Last name, Email

Landlords are created as needed. Properties that already exist are left
unchanged. Tenant columns, when present, set the property's tenant.
Rows that violate a constraint are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("import file not found: %w", err)
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		summary, err := importer.Import(cmd.Context(), s, importer.ReadFile(path), importer.Options{Logger: logger})
		if summary != nil {
			fmt.Printf("Rows:        %d\n", summary.Rows)
			fmt.Printf("Landlords:   %d added\n", summary.LandlordsAdded)
			fmt.Printf("Properties:  %d added, %d already present\n", summary.PropertiesAdded, summary.PropertiesSkipped)
			fmt.Printf("Tenants:     %d inserted, %d updated\n", summary.TenantsInserted, summary.TenantsUpdated)
			fmt.Printf("Duration:    %s\n", summary.Duration.Round(time.Millisecond))
			if len(summary.Errors) > 0 {
				fmt.Printf("\n%d row(s) skipped:\n", len(summary.Errors))
				for _, rowErr := range summary.Errors {
					fmt.Printf("  %v\n", rowErr)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the property register to CSV or XLSX",
	Long: `Export every property with its tenant to a .csv or .xlsx file. The
columns match what 'leasevault import' reads.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := export.FormatForPath(path); err != nil {
			return err
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		records, err := s.GetAllRecords(cmd.Context())
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if err := export.WriteFile(path, records); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("Exported %d propert(ies) to %s\n", len(records), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
