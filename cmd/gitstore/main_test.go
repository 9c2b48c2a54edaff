package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	objstore "github.com/ahrav/go-gitstore"
)

// testRepo is a small repository with two commits on main and an annotated
// tag v1 on the first:
//
//	first:  README = "hello\n"
//	second: README = "hello\nworld\n", docs/guide.md = "read me\n"
type testRepo struct {
	gitDir string
	first  objstore.Hash
	second objstore.Hash
	tag    objstore.Hash
	readme objstore.Hash
	guide  objstore.Hash
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	gitDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "objects"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(gitDir, "refs", "tags"), 0o755))

	s, err := objstore.Open(gitDir)
	require.NoError(t, err)
	defer s.Close()

	r := &testRepo{gitDir: gitDir}
	stamp := objstore.NewStamp("Ada Lovelace", "ada@example.com", time.Unix(1700000000, 0).UTC())

	hello, err := s.WriteRaw(objstore.ObjBlob, []byte("hello\n"))
	require.NoError(t, err)
	tree1 := setPath(t, s, objstore.EmptyTree(s), "README", hello)
	c1 := &objstore.Commit{Tree: tree1.Hash(), Author: stamp, Committer: stamp, Message: "first\n"}
	r.first, err = s.WriteObject(c1)
	require.NoError(t, err)

	r.readme, err = s.WriteRaw(objstore.ObjBlob, []byte("hello\nworld\n"))
	require.NoError(t, err)
	r.guide, err = s.WriteRaw(objstore.ObjBlob, []byte("read me\n"))
	require.NoError(t, err)
	tree2 := setPath(t, s, tree1, "README", r.readme)
	tree2 = setPath(t, s, tree2, "docs/guide.md", r.guide)
	c2 := &objstore.Commit{
		Tree:      tree2.Hash(),
		Parents:   []objstore.Hash{r.first},
		Author:    stamp,
		Committer: stamp,
		Message:   "second\n\nadds the guide\n",
	}
	r.second, err = s.WriteObject(c2)
	require.NoError(t, err)

	tag := &objstore.Tag{Object: r.first, TargetType: "commit", Name: "v1", Tagger: &stamp, Message: "release\n"}
	r.tag, err = s.WriteObject(tag)
	require.NoError(t, err)

	writeFile(t, filepath.Join(gitDir, "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(gitDir, "refs", "heads", "main"), r.second.String()+"\n")
	writeFile(t, filepath.Join(gitDir, "refs", "tags", "v1"), r.tag.String()+"\n")
	return r
}

func setPath(t *testing.T, s *objstore.Store, tree *objstore.Tree, path string, blob objstore.Hash) *objstore.Tree {
	t.Helper()
	u, err := tree.UpdateNode(path, objstore.ModeFile, blob)
	require.NoError(t, err)
	_, err = s.WriteTreeUpdate(u)
	require.NoError(t, err)
	return u.Root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// run executes the CLI with args against r and returns everything it
// printed.
func (r *testRepo) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := r.runApp(t, args...)
	return out, err
}

// runApp is run that also hands back the app state the command left behind.
func (r *testRepo) runApp(t *testing.T, args ...string) (string, *app, error) {
	t.Helper()
	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--git-dir", r.gitDir}, args...))
	err := execute(a, root)
	return out.String(), a, err
}

func (r *testRepo) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := r.run(t, args...)
	require.NoError(t, err, "output:\n%s", out)
	return out
}

func (r *testRepo) open(t *testing.T) *objstore.Store {
	t.Helper()
	s, err := objstore.Open(r.gitDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
