package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/compconf/pkg/config"
)

func newSchemasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas [name]",
		Short: "List the CUE schemas definitions are checked against",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := config.NewLoader().Schemas()
			if len(args) == 0 {
				for _, name := range registry.ListSchemas() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			schema, ok := registry.Schema(args[0])
			if !ok {
				return fmt.Errorf("unknown schema %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%s: %v\n", args[0], schema)
			return nil
		},
	}
}
