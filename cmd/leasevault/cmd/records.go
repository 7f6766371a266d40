package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/store"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List properties with their tenants",
	Long: `List every property in the register, ordered by property id, with the
tenant living there. Vacant properties show "-" in the tenant columns.

Examples:
  leasevault list
  leasevault list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		records, err := s.GetAllRecords(cmd.Context())
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if listJSON {
			out := make([]map[string]any, len(records))
			for i := range records {
				out[i] = recordJSON(&records[i])
			}
			return writeJSON(out)
		}
		if len(records) == 0 {
			fmt.Println("No properties found. Use 'leasevault add-property' or 'leasevault import' to add some.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLANDLORD\tFLAT\tSTREET\tPOST CODE\tCITY\tUNITS\tTENANT\tEMAIL")
		fmt.Fprintln(w, "──\t────────\t────\t──────\t─────────\t────\t─────\t──────\t─────")
		vacant := 0
		for i := range records {
			r := &records[i]
			if r.Vacant() {
				vacant++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.LandlordID, r.FlatNum, r.Street, r.PostCode, r.City,
				nullInt(r.UnitsInBuilding), tenantName(r), nullString(r.Email))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d propert(ies), %d vacant\n", len(records), vacant)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <property-id>",
	Short: "Show one property and its tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := s.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		if r == nil {
			return fmt.Errorf("property %q not found", args[0])
		}

		fmt.Printf("Property:  %s\n", r.ID)
		fmt.Printf("Landlord:  %s\n", r.LandlordID)
		fmt.Printf("Address:   %s %s, %s %s\n", r.FlatNum, r.Street, r.PostCode, r.City)
		fmt.Printf("Units:     %s\n", nullInt(r.UnitsInBuilding))
		if r.Vacant() {
			fmt.Println("Tenant:    (vacant)")
			return nil
		}
		fmt.Printf("Tenant:    %s\n", tenantName(r))
		fmt.Printf("Email:     %s\n", nullString(r.Email))
		return nil
	},
}

var addProperty struct {
	id       string
	landlord string
	flat     string
	street   string
	postCode string
	city     string
	units    int64
}

var addPropertyCmd = &cobra.Command{
	Use:   "add-property",
	Short: "Add a property to the register",
	Long: `Add a property owned by an existing landlord.

Example:
  leasevault add-property --id P1 --landlord L1 --flat 3 \
    --street "Mill Lane" --post-code "LS1 4AB" --city Leeds --units 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		p := store.Property{
			ID:         addProperty.id,
			LandlordID: addProperty.landlord,
			FlatNum:    addProperty.flat,
			Street:     addProperty.street,
			PostCode:   addProperty.postCode,
			City:       addProperty.city,
		}
		if cmd.Flags().Changed("units") {
			p.UnitsInBuilding = sql.NullInt64{Int64: addProperty.units, Valid: true}
		}
		if err := s.AddProperty(cmd.Context(), p); err != nil {
			return constraintHint(fmt.Errorf("add property: %w", err))
		}
		fmt.Printf("Added property %s\n", p.ID)
		return nil
	},
}

var deletePropertyCmd = &cobra.Command{
	Use:   "delete-property <property-id>",
	Short: "Delete a property and its tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		deleted, err := s.DeleteProperty(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("delete property: %w", err)
		}
		if !deleted {
			fmt.Printf("Property %s not found, nothing deleted\n", args[0])
			return nil
		}
		fmt.Printf("Deleted property %s\n", args[0])
		return nil
	},
}

var setTenant struct {
	first string
	last  string
	email string
}

var setTenantCmd = &cobra.Command{
	Use:   "set-tenant <property-id>",
	Short: "Set or replace the tenant of a property",
	Long: `Set the tenant of a property. An existing tenant is updated in place.

Example:
  leasevault set-tenant P1 --first Ann --last Lee --email ann@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		kind, err := s.UpsertTenant(cmd.Context(), store.TenantInput{
			PropertyID: args[0],
			FirstName:  setTenant.first,
			LastName:   setTenant.last,
			Email:      setTenant.email,
		})
		if err != nil {
			return constraintHint(fmt.Errorf("set tenant: %w", err))
		}
		fmt.Printf("Tenant of %s %s\n", args[0], kind)
		return nil
	},
}

var addLandlordCmd = &cobra.Command{
	Use:   "add-landlord <landlord-id>",
	Short: "Add a landlord",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		created, err := s.AddLandlord(cmd.Context(), args[0])
		if err != nil {
			return constraintHint(fmt.Errorf("add landlord: %w", err))
		}
		if !created {
			fmt.Printf("Landlord %s already exists\n", args[0])
			return nil
		}
		fmt.Printf("Added landlord %s\n", args[0])
		return nil
	},
}

var deleteLandlordCmd = &cobra.Command{
	Use:   "delete-landlord <landlord-id>",
	Short: "Delete a landlord with its properties and tenants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		deleted, err := s.DeleteLandlord(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("delete landlord: %w", err)
		}
		if !deleted {
			fmt.Printf("Landlord %s not found, nothing deleted\n", args[0])
			return nil
		}
		fmt.Printf("Deleted landlord %s\n", args[0])
		return nil
	},
}

var listLandlordsCmd = &cobra.Command{
	Use:   "list-landlords",
	Short: "List landlords",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.ListLandlords(cmd.Context())
		if err != nil {
			return fmt.Errorf("list landlords: %w", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		fmt.Printf("\n%d landlord(s)\n", len(ids))
		return nil
	},
}

// constraintHint adds a readable explanation to constraint violations.
func constraintHint(err error) error {
	if errors.Is(err, store.ErrConstraintViolation) {
		return fmt.Errorf("%w\n\nCheck that the referenced landlord or property exists and that the email is not used by another tenant", err)
	}
	return err
}

func recordJSON(r *store.Record) map[string]any {
	out := map[string]any{
		"id":          r.ID,
		"landlord_id": r.LandlordID,
		"flat_num":    r.FlatNum,
		"street":      r.Street,
		"post_code":   r.PostCode,
		"city":        r.City,
		"vacant":      r.Vacant(),
	}
	if r.UnitsInBuilding.Valid {
		out["units_in_building"] = r.UnitsInBuilding.Int64
	}
	if r.FirstName.Valid {
		out["first_name"] = r.FirstName.String
	}
	if r.LastName.Valid {
		out["last_name"] = r.LastName.String
	}
	if r.Email.Valid {
		out["email"] = r.Email.String
	}
	return out
}

func tenantName(r *store.Record) string {
	if r.Vacant() {
		return "-"
	}
	name := r.FirstName.String
	if r.LastName.String != "" {
		if name != "" {
			name += " "
		}
		name += r.LastName.String
	}
	return name
}

func nullString(v sql.NullString) string {
	if !v.Valid || v.String == "" {
		return "-"
	}
	return v.String
}

func nullInt(v sql.NullInt64) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprintf("%d", v.Int64)
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")

	f := addPropertyCmd.Flags()
	f.StringVar(&addProperty.id, "id", "", "property id (required)")
	f.StringVar(&addProperty.landlord, "landlord", "", "owning landlord id (required)")
	f.StringVar(&addProperty.flat, "flat", "", "flat number")
	f.StringVar(&addProperty.street, "street", "", "street address")
	f.StringVar(&addProperty.postCode, "post-code", "", "post code")
	f.StringVar(&addProperty.city, "city", "", "city")
	f.Int64Var(&addProperty.units, "units", 0, "units in the building")
	_ = addPropertyCmd.MarkFlagRequired("id")
	_ = addPropertyCmd.MarkFlagRequired("landlord")

	f = setTenantCmd.Flags()
	f.StringVar(&setTenant.first, "first", "", "first name")
	f.StringVar(&setTenant.last, "last", "", "last name")
	f.StringVar(&setTenant.email, "email", "", "email address")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addPropertyCmd)
	rootCmd.AddCommand(deletePropertyCmd)
	rootCmd.AddCommand(setTenantCmd)
	rootCmd.AddCommand(addLandlordCmd)
	rootCmd.AddCommand(deleteLandlordCmd)
	rootCmd.AddCommand(listLandlordsCmd)
}
