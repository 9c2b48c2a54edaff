package objstore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrRefNotFound reports a reference name that resolves to nothing.
var ErrRefNotFound = errors.New("reference not found")

// maxSymrefDepth bounds chains of symbolic references such as HEAD.
const maxSymrefDepth = 5

// ResolveRef turns a revision name into an object hash.
//
// Accepted forms are a full 40-character hex hash, HEAD (symbolic or
// detached), a full "refs/..." path, and short names that are tried as
// refs/<name>, refs/tags/<name>, refs/heads/<name> and refs/remotes/<name>
// in that order. Each candidate is looked up as a loose ref file first and
// then in packed-refs.
func (s *Store) ResolveRef(name string) (Hash, error) {
	if len(name) == 40 {
		if h, err := ParseHash(name); err == nil {
			return h, nil
		}
	}
	for _, cand := range refCandidates(name) {
		h, err := s.readRef(cand, 0)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrRefNotFound) {
			return Hash{}, err
		}
	}
	return Hash{}, fmt.Errorf("%w: %s", ErrRefNotFound, name)
}

// Tip returns the commit at the tip of branch, as refs/heads/<branch>.
func (s *Store) Tip(branch string) (Hash, error) {
	return s.readRef("refs/heads/"+branch, 0)
}

func refCandidates(name string) []string {
	if name == "HEAD" || strings.HasPrefix(name, "refs/") {
		return []string{name}
	}
	return []string{
		"refs/" + name,
		"refs/tags/" + name,
		"refs/heads/" + name,
		"refs/remotes/" + name,
	}
}

// readRef resolves one fully-qualified ref, following symbolic refs.
func (s *Store) readRef(ref string, depth int) (Hash, error) {
	if depth > maxSymrefDepth {
		return Hash{}, fmt.Errorf("symbolic ref chain at %s too deep", ref)
	}
	raw, err := os.ReadFile(filepath.Join(s.gitDir, filepath.FromSlash(ref)))
	switch {
	case err == nil:
		line := strings.TrimSpace(string(raw))
		if target, ok := strings.CutPrefix(line, "ref: "); ok {
			return s.readRef(strings.TrimSpace(target), depth+1)
		}
		h, err := ParseHash(line)
		if err != nil {
			return Hash{}, fmt.Errorf("ref %s: %w", ref, err)
		}
		return h, nil
	case errors.Is(err, fs.ErrNotExist), isDirErr(err):
		return s.packedRef(ref)
	default:
		return Hash{}, err
	}
}

// isDirErr reports a read of a directory, which happens when a short name
// such as "heads" matches a refs/ subdirectory.
func isDirErr(err error) bool {
	var pe *fs.PathError
	if !errors.As(err, &pe) {
		return false
	}
	st, serr := os.Stat(pe.Path)
	return serr == nil && st.IsDir()
}

// packedRef looks ref up in packed-refs. Comment lines and peeled "^" lines
// are skipped.
func (s *Store) packedRef(ref string) (Hash, error) {
	var (
		out   Hash
		found bool
	)
	err := withSharedLock(filepath.Join(s.gitDir, "packed-refs"), func(f *os.File) error {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if line == "" || line[0] == '#' || line[0] == '^' {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 2 || fields[1] != ref {
				continue
			}
			h, err := ParseHash(fields[0])
			if err != nil {
				return fmt.Errorf("packed-refs %s: %w", ref, err)
			}
			out, found = h, true
			return nil
		}
		return sc.Err()
	})
	if errors.Is(err, fs.ErrNotExist) {
		return Hash{}, fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	if err != nil {
		return Hash{}, err
	}
	if !found {
		return Hash{}, fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return out, nil
}
