package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/solaius/model-harvester/pkg/adapter"
)

func newAdaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the adapter types available to sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			types := adapter.Types()
			if done, err := printStructured(os.Stdout, format, types); done || err != nil {
				return err
			}
			rows := make([][]string, 0, len(types))
			for _, t := range types {
				rows = append(rows, []string{t})
			}
			return printTable(os.Stdout, []string{"type"}, rows)
		},
	}
}
