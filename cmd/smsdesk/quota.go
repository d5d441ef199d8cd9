package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var quotaCleanupCmd = &cobra.Command{
	Use:   "quota-cleanup",
	Short: "Drop expired sending-rate entries from every customer quota",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cleaned, err := a.customers.CleanupAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleaned %d quota trackers\n", cleaned)
		return nil
	},
}
