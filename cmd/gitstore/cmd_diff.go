package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	objstore "github.com/ahrav/go-gitstore"
)

var (
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")).Bold(true)
)

func statusStyle(k objstore.ChangeKind) lipgloss.Style {
	switch k {
	case objstore.Added:
		return addedStyle
	case objstore.Removed:
		return removedStyle
	}
	return changedStyle
}

func newDiffCmd(a *app) *cobra.Command {
	var patch, stat bool

	cmd := &cobra.Command{
		Use:   "diff [<old>] <new>",
		Short: "Compare the trees of two commits",
		Long: "Compare the trees of two commits. With a single argument the commit is\n" +
			"compared with its first parent, or with the empty tree for a root commit.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			var oldC, newC *objstore.Commit
			if len(args) == 2 {
				if oldC, err = resolveCommit(s, args[0]); err != nil {
					return err
				}
				if newC, err = resolveCommit(s, args[1]); err != nil {
					return err
				}
			} else {
				if newC, err = resolveCommit(s, args[0]); err != nil {
					return err
				}
				if len(newC.Parents) > 0 {
					if oldC, err = s.Commit(newC.Parents[0]); err != nil {
						return err
					}
				}
			}

			diff, err := objstore.TreeDiff(oldC, newC)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ch := range objstore.SortedChanges(diff) {
				if err := printChange(out, s, oldC, newC, ch, patch, stat); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "show a unified diff for every changed file")
	cmd.Flags().BoolVar(&stat, "stat", false, "show inserted and deleted line counts")
	return cmd
}

func printChange(out io.Writer, s *objstore.Store, oldC, newC *objstore.Commit, ch objstore.Change, patch, stat bool) error {
	letter := statusStyle(ch.Kind).Render(ch.Kind.Letter())
	// Submodule entries have no blob to diff.
	if strings.HasSuffix(ch.Path, objstore.SubmoduleSuffix) || (!patch && !stat) {
		fmt.Fprintf(out, "%s\t%s\n", letter, ch.Path)
		return nil
	}

	oldID, err := sideHash(oldC, ch.Path)
	if err != nil {
		return err
	}
	newID, err := sideHash(newC, ch.Path)
	if err != nil {
		return err
	}

	if stat {
		oldB, newB, err := blobPair(s, oldID, newID)
		if err != nil {
			return err
		}
		st := objstore.DiffStat(oldB, newB)
		fmt.Fprintf(out, "%s\t%s\t+%d -%d\n", letter, ch.Path, st.Added, st.Deleted)
	} else {
		fmt.Fprintf(out, "%s\t%s\n", letter, ch.Path)
	}
	if patch {
		p, err := s.BlobPatch(ch.Path, oldID, newID, ch.Kind)
		if err != nil {
			return err
		}
		fmt.Fprint(out, p)
	}
	return nil
}

// sideHash returns the hash path has in c, or the zero hash when c is nil or
// lacks the path.
func sideHash(c *objstore.Commit, path string) (objstore.Hash, error) {
	if c == nil {
		return objstore.Hash{}, nil
	}
	h, ok, err := c.Find(path)
	if err != nil || !ok {
		return objstore.Hash{}, err
	}
	return h, nil
}

func blobPair(s *objstore.Store, oldID, newID objstore.Hash) ([]byte, []byte, error) {
	var oldB, newB []byte
	if !oldID.IsZero() {
		b, err := s.Blob(oldID)
		if err != nil {
			return nil, nil, err
		}
		oldB = b.Data
	}
	if !newID.IsZero() {
		b, err := s.Blob(newID)
		if err != nil {
			return nil, nil, err
		}
		newB = b.Data
	}
	return oldB, newB, nil
}
