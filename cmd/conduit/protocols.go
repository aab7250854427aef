package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/artpar/conduit"
)

// protocolsCmd prints every registered protocol and alias.
var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List registered channel protocols",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := conduit.NewContext(nil, setupLogger())
		if err != nil {
			return err
		}
		names := ctx.Protocols()
		sort.Strings(names)
		for _, name := range names {
			if impl := ctx.Lookup(name); impl != nil {
				fmt.Printf("%-12s impl\n", name)
			} else {
				fmt.Printf("%-12s alias\n", name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(protocolsCmd)
}
