package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

func newCatFileCmd(a *app) *cobra.Command {
	var showType, showSize, pretty bool

	cmd := &cobra.Command{
		Use:   "cat-file (-t | -s | -p) <object>",
		Short: "Print the type, size or content of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			for _, set := range []bool{showType, showSize, pretty} {
				if set {
					n++
				}
			}
			if n != 1 {
				return errors.New("exactly one of -t, -s or -p is required")
			}

			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			oid, err := resolveObject(s, args[0])
			if err != nil {
				return err
			}
			data, typ, err := s.Get(oid)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case showType:
				fmt.Fprintln(out, typ)
			case showSize:
				fmt.Fprintln(out, len(data))
			case typ == objstore.ObjTree:
				t, err := s.Tree(oid)
				if err != nil {
					return err
				}
				printTreeNodes(out, t.Nodes(), "")
			default:
				_, err = out.Write(data)
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showType, "type", "t", false, "show the object type")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "show the payload size")
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "pretty-print the object")
	return cmd
}

// printTreeNodes writes nodes in ls-tree format, prefixing names with
// prefix.
func printTreeNodes(out io.Writer, nodes []objstore.TreeNode, prefix string) {
	for _, n := range nodes {
		fmt.Fprintf(out, "%06o %s %s\t%s%s\n", n.Mode, nodeKind(n), n.Hash, prefix, n.Name)
	}
}

func nodeKind(n objstore.TreeNode) string {
	switch {
	case n.IsSubmodule:
		return "commit"
	case n.IsDir:
		return "tree"
	}
	return "blob"
}
