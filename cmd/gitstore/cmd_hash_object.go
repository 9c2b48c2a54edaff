package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

func newHashObjectCmd(a *app) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "hash-object [-w] <file>",
		Short: "Compute the blob hash of a file and optionally store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !write {
				fmt.Fprintln(cmd.OutOrStdout(), objstore.HashObject(objstore.ObjBlob, data))
				return nil
			}

			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()
			oid, err := s.WriteRaw(objstore.ObjBlob, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), oid)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "store the blob as a loose object")
	return cmd
}
