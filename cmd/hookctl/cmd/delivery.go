package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/store"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
	Long:  `Inspect delivery status, attempts, and last errors in the delivery ledger.`,
}

// deliveryGetCmd represents the delivery get command
var deliveryGetCmd = &cobra.Command{
	Use:   "get [delivery-id]",
	Short: "Get one delivery by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cancel, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cancel()
		defer pool.Close()

		d, err := store.NewDeliveryLedger(pool).Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get delivery: %w", err)
		}
		printDeliveries([]*delivery.Delivery{d})
		return nil
	},
}

// deliveryListCmd represents the delivery list command
var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries, optionally filtered by status or event",
	Long: `List deliveries from the ledger, newest first.

Example:
  hookctl delivery list --status failed --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		eventID, _ := cmd.Flags().GetString("event-id")
		limit, _ := cmd.Flags().GetInt("limit")

		pool, ctx, cancel, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cancel()
		defer pool.Close()

		q := `
			SELECT id, endpoint_id, event_id, status, attempts, next_attempt_at,
			       last_code, last_error, delivered_at, created_at, updated_at
			FROM hookrelay.deliveries
			WHERE ($1 = '' OR status = $1)
			  AND ($2 = '' OR event_id::text = $2)
			ORDER BY created_at DESC
			LIMIT $3`
		rows, err := pool.Query(ctx, q, status, eventID, limit)
		if err != nil {
			return fmt.Errorf("list deliveries: %w", err)
		}
		defer rows.Close()

		var out []*delivery.Delivery
		for rows.Next() {
			var (
				d       delivery.Delivery
				lastErr *string
			)
			if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempts,
				&d.NextAttemptAt, &d.LastCode, &lastErr, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
				return err
			}
			if lastErr != nil {
				d.LastError = *lastErr
			}
			out = append(out, &d)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		printDeliveries(out)
		return nil
	},
}

// deliveryFailedCmd is a shortcut for terminally failed deliveries that need
// operator attention.
var deliveryFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List terminally failed deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Flags().Set("status", string(delivery.StatusFailed))
		return deliveryListCmd.RunE(cmd, args)
	},
}

func printDeliveries(ds []*delivery.Delivery) {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ds)
		return
	}
	if len(ds) == 0 {
		fmt.Println("No deliveries found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tLAST CODE\tNEXT ATTEMPT\tLAST ERROR")
	for _, d := range ds {
		code := "-"
		if d.LastCode != nil {
			code = fmt.Sprint(*d.LastCode)
		}
		next := "-"
		if d.NextAttemptAt != nil {
			next = d.NextAttemptAt.UTC().Format(time.RFC3339)
		}
		lastErr := d.LastError
		if len(lastErr) > 60 {
			lastErr = lastErr[:60] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", d.ID, d.Status, d.Attempts, code, next, lastErr)
	}
	_ = w.Flush()
}

func init() {
	deliveryListCmd.Flags().String("status", "", "filter by status (pending, delivered, failed)")
	deliveryListCmd.Flags().String("event-id", "", "filter by event ID")
	deliveryListCmd.Flags().Int("limit", 20, "maximum rows to return")
	deliveryFailedCmd.Flags().String("status", "", "")
	deliveryFailedCmd.Flags().String("event-id", "", "filter by event ID")
	deliveryFailedCmd.Flags().Int("limit", 20, "maximum rows to return")
	_ = deliveryFailedCmd.Flags().MarkHidden("status")

	deliveryCmd.AddCommand(deliveryGetCmd)
	deliveryCmd.AddCommand(deliveryListCmd)
	deliveryCmd.AddCommand(deliveryFailedCmd)
	rootCmd.AddCommand(deliveryCmd)
}
