package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

func newLsTreeCmd(a *app) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls-tree [-r] <tree-ish> [path]",
		Short: "List the entries of a tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			oid, err := s.ResolveRef(args[0])
			if err != nil {
				return err
			}
			root, err := resolveTree(s, oid)
			if err != nil {
				return err
			}
			t, err := s.Tree(root)
			if err != nil {
				return err
			}

			prefix := ""
			if len(args) == 2 {
				sub, ok, err := t.Find(args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("path %q does not exist", args[1])
				}
				if t, err = s.Tree(sub); err != nil {
					return err
				}
				if p := cleanPath(args[1]); p != "" {
					prefix = p + "/"
				}
			}

			out := cmd.OutOrStdout()
			if !recursive {
				printTreeNodes(out, t.Nodes(), prefix)
				return nil
			}
			return walkTree(out, s, t, prefix)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recurse into subtrees")
	return cmd
}

// walkTree prints every non-directory entry below t, depth first in tree
// order. Submodules are listed but not entered.
func walkTree(out io.Writer, s *objstore.Store, t *objstore.Tree, prefix string) error {
	for _, n := range t.Nodes() {
		if !n.IsDir || n.IsSubmodule {
			printTreeNodes(out, []objstore.TreeNode{n}, prefix)
			continue
		}
		sub, err := s.Tree(n.Hash)
		if err != nil {
			return fmt.Errorf("%s%s: %w", prefix, n.Name, err)
		}
		if err := walkTree(out, s, sub, prefix+n.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}
