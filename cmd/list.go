package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Prints stored products as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := c.app.Store()
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			products, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, p := range products {
				if err := enc.Encode(p); err != nil {
					return fmt.Errorf("write product: %w", err)
				}
			}
			return nil
		},
	}
}

func newSchemaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Creates the products table if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Store().EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", c.cfg.Store.Driver)
			if err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
}
