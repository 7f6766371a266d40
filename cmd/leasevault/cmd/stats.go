package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/query"
	"github.com/wesm/leasevault/internal/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long: `Show counts of landlords, properties, tenants and cached documents,
followed by the number of properties each landlord owns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		engine := query.NewSQLEngine(s.DB())
		stats, err := engine.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		counts, err := engine.PropertiesByLandlord(cmd.Context())
		if err != nil {
			return fmt.Errorf("count properties by landlord: %w", err)
		}

		if statsJSON {
			return writeJSON(map[string]any{"stats": stats, "landlords": counts})
		}

		fmt.Printf("Database: %s\n", redactDSN(cfg.DatabaseDSN()))
		printStats(stats)
		if len(counts) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANDLORD\tPROPERTIES")
		fmt.Fprintln(w, "────────\t──────────")
		for _, c := range counts {
			fmt.Fprintf(w, "%s\t%d\n", c.LandlordID, c.Properties)
		}
		return w.Flush()
	},
}

var occupancyJSON bool

var occupancyCmd = &cobra.Command{
	Use:   "occupancy",
	Short: "Show occupancy per building",
	Long: `Show, for each street, how many properties are occupied out of the
declared number of units in the building.

Fails when any building has no declared capacity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		buildings, err := query.NewSQLEngine(s.DB()).OccupancyByBuilding(cmd.Context())
		if err != nil {
			return fmt.Errorf("occupancy: %w", err)
		}
		if occupancyJSON {
			return writeJSON(map[string]any{"buildings": buildings})
		}
		if len(buildings) == 0 {
			fmt.Println("No properties found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STREET\tPROPERTIES\tOCCUPIED\tCAPACITY\tOCCUPANCY")
		fmt.Fprintln(w, "──────\t──────────\t────────\t────────\t─────────")
		for _, b := range buildings {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s%%\n", b.Street, b.Properties, b.Occupied, b.Capacity, b.Percentage)
		}
		return w.Flush()
	},
}

func printStats(stats *query.Stats) {
	fmt.Printf("  Landlords:   %d\n", stats.Landlords)
	fmt.Printf("  Properties:  %d (%d vacant)\n", stats.Properties, stats.VacantProperties)
	fmt.Printf("  Tenants:     %d\n", stats.Tenants)
	fmt.Printf("  Documents:   %d (%d with attachments)\n", stats.Documents, stats.DocumentsWithAttachment)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// redactDSN hides the password of a PostgreSQL URL.
func redactDSN(dsn string) string {
	if !store.IsPostgresURL(dsn) {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://(unparseable)"
	}
	return u.Redacted()
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	occupancyCmd.Flags().BoolVar(&occupancyJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(occupancyCmd)
}
