// diff_blob.go – line diffs between blob versions
package objstore

import (
	"bytes"
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// LineStat counts the lines a change inserts and deletes.
type LineStat struct {
	Added   int
	Deleted int
}

// unifiedDiff computes the Myers line diff of oldB against newB using
// github.com/hexops/gotextdiff.
func unifiedDiff(fromName, toName string, oldB, newB []byte) gotextdiff.Unified {
	a, b := string(oldB), string(newB)
	edits := myers.ComputeEdits(span.URIFromPath(""), a, b)
	return gotextdiff.ToUnified(fromName, toName, a, edits)
}

// UnifiedDiff renders a unified patch turning oldB into newB. Identical
// inputs yield the empty string. The file headers use Git's a/ and b/
// prefixes, with /dev/null standing in for a missing side.
func UnifiedDiff(path string, oldB, newB []byte, kind ChangeKind) string {
	if bytes.Equal(oldB, newB) {
		return ""
	}
	from, to := "a/"+path, "b/"+path
	switch kind {
	case Added:
		from = "/dev/null"
	case Removed:
		to = "/dev/null"
	}
	return fmt.Sprint(unifiedDiff(from, to, oldB, newB))
}

// DiffStat counts inserted and deleted lines between two versions.
func DiffStat(oldB, newB []byte) LineStat {
	var st LineStat
	if bytes.Equal(oldB, newB) {
		return st
	}
	for _, h := range unifiedDiff("", "", oldB, newB).Hunks {
		for _, ln := range h.Lines {
			switch ln.Kind {
			case gotextdiff.Insert:
				st.Added++
			case gotextdiff.Delete:
				st.Deleted++
			}
		}
	}
	return st
}

// BlobPatch loads the two versions of a changed path and returns their
// unified diff. A zero hash stands for a missing side.
func (s *Store) BlobPatch(path string, oldID, newID Hash, kind ChangeKind) (string, error) {
	oldB, err := s.blobOrEmpty(oldID)
	if err != nil {
		return "", err
	}
	newB, err := s.blobOrEmpty(newID)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(path, oldB, newB, kind), nil
}

func (s *Store) blobOrEmpty(oid Hash) ([]byte, error) {
	if oid.IsZero() {
		return nil, nil
	}
	b, err := s.Blob(oid)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}
