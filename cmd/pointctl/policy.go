package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyInvalidateCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or refresh the point policies",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := connect(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		p, err := e.components.Policies.Get(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var policyInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop the cached policies so services reload them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := connect(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.components.Policies.Invalidate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "policy cache invalidated")
		return nil
	},
}
