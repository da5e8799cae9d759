package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/solaius/model-harvester/pkg/harvest"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the rotational harvest state",
	}
	cmd.AddCommand(newStateShowCmd())
	cmd.AddCommand(newStateResetCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the next offset of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			a := mustApp(cmd.Context())
			st, err := a.states.Load(cmd.Context())
			if err != nil {
				return err
			}

			if done, err := printStructured(os.Stdout, format, st); done || err != nil {
				return err
			}

			names := make([]string, 0, len(st.LastRun))
			for name := range st.LastRun {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				s := st.Get(name)
				rows = append(rows, []string{name, strconv.Itoa(s.Offset), formatTime(s.Timestamp)})
			}
			if err := printTable(os.Stdout, []string{"source", "next offset", "last run"}, rows); err != nil {
				return err
			}
			if st.Global != nil {
				fmt.Fprintf(os.Stdout, "\nLast completed run: %s\n", formatTime(*st.Global))
			}
			return nil
		},
	}
}

func newStateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset SOURCE...",
		Short: "Restart the rotation of the given sources at offset 0",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := mustApp(cmd.Context())
			st, err := a.states.Load(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			for _, name := range args {
				st.Set(name, harvest.SourceState{Offset: 0, Timestamp: now})
			}
			if err := a.states.Save(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Reset %d source(s)\n", len(args))
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
