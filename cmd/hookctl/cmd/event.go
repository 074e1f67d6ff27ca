package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paystrand/hookrelay/internal/store"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Inspect domain events",
}

// eventGetCmd represents the event get command
var eventGetCmd = &cobra.Command{
	Use:   "get [event-id]",
	Short: "Get one event by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, ctx, cancel, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer cancel()
		defer pool.Close()

		ev, err := store.NewEventStore(pool).Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ev)
		}
		fmt.Printf("Event %s\n", ev.ID)
		fmt.Printf("  Tenant:   %s\n", ev.TenantID)
		fmt.Printf("  Type:     %s\n", ev.Type)
		fmt.Printf("  Resource: %s (%s)\n", ev.Resource, ev.ResourceID)
		fmt.Printf("  Created:  %s\n", ev.CreatedAt)
		return nil
	},
}

func init() {
	eventCmd.AddCommand(eventGetCmd)
	rootCmd.AddCommand(eventCmd)
}
