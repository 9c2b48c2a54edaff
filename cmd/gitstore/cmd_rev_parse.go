package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRevParseCmd(a *app) *cobra.Command {
	var short, peel bool

	cmd := &cobra.Command{
		Use:   "rev-parse <rev>...",
		Short: "Resolve revisions to object hashes",
		Long: "Resolve revisions to object hashes. A revision is a full hash, HEAD, a\n" +
			"refs/ path, a short branch, tag or remote name, optionally followed by\n" +
			":<path> to name an object inside its tree.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			for _, rev := range args {
				oid, err := resolveObject(s, rev)
				if err != nil {
					return err
				}
				if peel {
					if oid, _, err = s.Peel(oid); err != nil {
						return err
					}
				}
				if short {
					fmt.Fprintln(out, oid.Short())
				} else {
					fmt.Fprintln(out, oid)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print abbreviated hashes")
	cmd.Flags().BoolVar(&peel, "peel", false, "follow annotated tags to the tagged object")
	return cmd
}
