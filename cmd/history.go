package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/zeit-on-tolino/internal/app"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), rt, func(a *app.App) error {
				store, err := a.History()
				if err != nil {
					return err
				}
				runs, err := store.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
					return err
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.StartedAt.Local().Format(time.DateTime),
						string(run.Status),
						run.Title,
						strconv.FormatInt(run.SizeBytes, 10),
						run.Duration().Round(time.Second).String(),
						run.Error,
					})
				}
				out := renderTable(
					[]string{"started", "status", "title", "bytes", "took", "error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}
