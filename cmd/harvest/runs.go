package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/solaius/model-harvester/pkg/runs"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded harvest runs",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsSourcesCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		state     string
		pageSize  int
		pageToken string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List harvest runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			a := mustApp(cmd.Context())
			records, next, total, err := a.runs.List(cmd.Context(), runs.ListFilter{State: state}, pageSize, pageToken)
			if err != nil {
				return err
			}

			page := map[string]any{
				"runs":          records,
				"nextPageToken": next,
				"totalSize":     total,
			}
			if done, err := printStructured(os.Stdout, format, page); done || err != nil {
				return err
			}

			headers := []string{"id", "trigger", "state", "started", "output", "archived", "failed", "duration", "error"}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.ID,
					r.Trigger,
					string(r.State),
					formatTime(r.StartedAt),
					strconv.Itoa(r.Output),
					strconv.Itoa(r.Archived),
					strconv.Itoa(r.FailedSources),
					(time.Duration(r.DurationMs) * time.Millisecond).String(),
					truncate(r.LastError, 40),
				})
			}
			if err := printTable(os.Stdout, headers, rows); err != nil {
				return err
			}
			if next != "" {
				fmt.Fprintf(os.Stdout, "\nMore runs: --page-token %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (running, succeeded, failed)")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Runs per page (max 100)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func newRunsSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Show the last harvest outcome of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			a := mustApp(cmd.Context())
			rows, err := a.runs.Sources(cmd.Context())
			if err != nil {
				return err
			}

			if done, err := printStructured(os.Stdout, format, rows); done || err != nil {
				return err
			}

			headers := []string{"source", "state", "last run", "fetched", "inserted", "updated", "next offset", "error"}
			table := make([][]string, 0, len(rows))
			for _, s := range rows {
				table = append(table, []string{
					s.Source,
					s.State,
					formatTime(s.LastRunAt),
					strconv.Itoa(s.Fetched),
					strconv.Itoa(s.Inserted),
					strconv.Itoa(s.Updated),
					strconv.Itoa(s.NextOffset),
					truncate(s.LastError, 40),
				})
			}
			return printTable(os.Stdout, headers, table)
		},
	}
}
