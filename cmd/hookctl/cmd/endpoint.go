package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paystrand/hookrelay/internal/endpoint"
)

// endpointCmd represents the endpoint command
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Inspect subscriber endpoints",
	Long:  `List the tenant's registered endpoints and their subscriptions. Secrets are never shown.`,
}

// endpointListCmd represents the endpoint list command
var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List endpoints for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}

		pool, ctx, cancel, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cancel()
		defer pool.Close()

		rows, err := pool.Query(ctx, `
			SELECT id, tenant_id, url, enabled, event_types, COALESCE(category_filter, ''), resource_filters
			FROM hookrelay.endpoints
			WHERE tenant_id = $1
			ORDER BY created_at ASC`, tenantID)
		if err != nil {
			return fmt.Errorf("list endpoints: %w", err)
		}
		defer rows.Close()

		var out []*endpoint.Endpoint
		for rows.Next() {
			var ep endpoint.Endpoint
			if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Enabled,
				&ep.EventTypes, &ep.CategoryFilter, &ep.ResourceFilters); err != nil {
				return err
			}
			out = append(out, &ep)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		if len(out) == 0 {
			fmt.Println("No endpoints found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tENABLED\tEVENT TYPES\tCATEGORY")
		for _, ep := range out {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
				ep.ID, ep.URL, ep.Enabled, strings.Join(ep.EventTypes, ","), ep.CategoryFilter)
		}
		return w.Flush()
	},
}

func init() {
	endpointListCmd.Flags().String("tenant", "", "tenant ID (required)")
	endpointCmd.AddCommand(endpointListCmd)
	rootCmd.AddCommand(endpointCmd)
}
