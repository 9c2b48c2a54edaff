package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newLogCmd(a *app) *cobra.Command {
	var oneline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log [rev]",
		Short: "Show commit history, newest descendants first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "HEAD"
			if len(args) == 1 {
				rev = args[0]
			}

			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			tip, err := resolveCommit(s, rev)
			if err != nil {
				return err
			}
			history, err := tip.History()
			if err != nil {
				return err
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}

			out := cmd.OutOrStdout()
			if oneline {
				for _, c := range history {
					fmt.Fprintf(out, "%s %s\n", c.Hash().Short(), c.Summary())
				}
				return nil
			}

			table := tablewriter.NewWriter(out)
			table.Header("Commit", "Author", "Date", "Summary")
			for _, c := range history {
				table.Append(
					c.Hash().Short(),
					c.Author.Name,
					c.Author.Time().Format("2006-01-02 15:04"),
					c.Summary(),
				)
			}
			return table.Render()
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "print one line per commit")
	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of commits shown")
	return cmd
}
