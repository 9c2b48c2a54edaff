package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

func newUpdateTreeCmd(a *app) *cobra.Command {
	var remove, dryRun bool

	cmd := &cobra.Command{
		Use:   "update-tree <tree-ish> <path> [<mode> <object>]",
		Short: "Set or remove one entry of a tree and print the new root tree",
		Long: "Set or remove one entry of a tree and print the new root tree.\n" +
			"Missing directories are created. Every new tree is written as a loose\n" +
			"object unless --dry-run is given; the original tree is never modified.",
		Args: func(cmd *cobra.Command, args []string) error {
			if remove {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.ExactArgs(4)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				mode uint32
				oid  objstore.Hash
			)
			if !remove {
				m, err := strconv.ParseUint(args[2], 8, 32)
				if err != nil || m == 0 {
					return fmt.Errorf("invalid mode %q", args[2])
				}
				mode = uint32(m)
			}

			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if !remove {
				if oid, err = s.ResolveRef(args[3]); err != nil {
					return err
				}
			}
			start, err := s.ResolveRef(args[0])
			if err != nil {
				return err
			}
			rootID, err := resolveTree(s, start)
			if err != nil {
				return err
			}
			root, err := s.Tree(rootID)
			if err != nil {
				return err
			}

			u, err := root.UpdateNode(cleanPath(args[1]), mode, oid)
			if err != nil {
				return err
			}
			newRoot := u.Root.Hash()
			if !dryRun {
				if newRoot, err = s.WriteTreeUpdate(u); err != nil {
					return err
				}
			}
			a.log.Debug("tree updated",
				slog.String("from", rootID.String()),
				slog.String("to", newRoot.String()),
				slog.Int("created", len(u.Created)),
				slog.Bool("written", !dryRun))
			fmt.Fprintln(cmd.OutOrStdout(), newRoot)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the entry at path")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "compute the new tree without writing it")
	return cmd
}

// cleanPath drops empty segments from a slash-separated path.
func cleanPath(p string) string {
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	return strings.Join(segs, "/")
}
