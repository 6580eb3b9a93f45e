package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hibot-harvest/internal/store"
)

func newRunsCmd(load loader) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List harvest runs recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			st, err := store.OpenSQLite(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()
			ctx := cmd.Context()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if runID != "" {
				pages, err := st.ListPages(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "PAGE\tITEMS\tWORKER\tFETCHED")
				for _, p := range pages {
					fmt.Fprintf(tw, "%d\t%d\tw%d\t%s\n", p.Page, p.Items, p.Worker, formatTime(p.FetchedAt))
				}
				return nil
			}

			runs, err := st.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "RUN\tFROM\tTO\tPAGES\tROWS\tSTOP\tSTARTED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.StartDate, r.EndDate, r.Pages, r.Rows, r.StopPage, formatTime(r.StartedAt), r.Error)
			}
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "\ntotal: %d runs (%d failed), %d pages, %d rows\n",
				stats.RunsTotal, stats.RunsFailed, stats.PagesTotal, stats.RowsTotal)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 = all)")
	cmd.Flags().StringVar(&runID, "pages", "", "show the pages fetched by this run id")
	return cmd
}
