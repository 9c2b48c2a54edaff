package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check pack checksums and entry CRCs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := s.Verify()
			if err != nil {
				return fmt.Errorf("verify failed after %d packs: %w", rep.Packs, err)
			}

			out := cmd.OutOrStdout()
			table := tablewriter.NewWriter(out)
			table.Header("Packs", "Objects", "Duplicates")
			table.Append(strconv.Itoa(rep.Packs), strconv.Itoa(rep.Objects), strconv.Itoa(len(rep.Duplicates)))
			if err := table.Render(); err != nil {
				return err
			}
			for _, oid := range rep.Duplicates {
				fmt.Fprintf(out, "duplicate %s\n", oid)
			}
			fmt.Fprintf(out, "ok: verified %d objects in %d packs\n", rep.Objects, rep.Packs)
			return nil
		},
	}
	return cmd
}
