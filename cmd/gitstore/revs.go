package main

import (
	"fmt"
	"strings"

	objstore "github.com/ahrav/go-gitstore"
)

// resolveObject turns "<rev>" or "<rev>:<path>" into an object hash. With a
// path, rev is peeled to a tree and the path looked up inside it.
func resolveObject(s *objstore.Store, spec string) (objstore.Hash, error) {
	rev, path, hasPath := strings.Cut(spec, ":")
	if rev == "" {
		rev = "HEAD"
	}
	oid, err := s.ResolveRef(rev)
	if err != nil {
		return objstore.Hash{}, err
	}
	if !hasPath {
		return oid, nil
	}
	tree, err := resolveTree(s, oid)
	if err != nil {
		return objstore.Hash{}, err
	}
	t, err := s.Tree(tree)
	if err != nil {
		return objstore.Hash{}, err
	}
	found, ok, err := t.Find(path)
	if err != nil {
		return objstore.Hash{}, err
	}
	if !ok {
		return objstore.Hash{}, fmt.Errorf("path %q does not exist in %s", path, rev)
	}
	return found, nil
}

// resolveTree peels oid through tags and commits down to a tree.
func resolveTree(s *objstore.Store, oid objstore.Hash) (objstore.Hash, error) {
	peeled, typ, err := s.Peel(oid)
	if err != nil {
		return objstore.Hash{}, err
	}
	switch typ {
	case objstore.ObjTree:
		return peeled, nil
	case objstore.ObjCommit:
		c, err := s.Commit(peeled)
		if err != nil {
			return objstore.Hash{}, err
		}
		return c.Tree, nil
	}
	return objstore.Hash{}, fmt.Errorf("%s is a %v, not a tree-ish", oid, typ)
}

// resolveCommit resolves rev and peels it to a commit.
func resolveCommit(s *objstore.Store, rev string) (*objstore.Commit, error) {
	oid, err := s.ResolveRef(rev)
	if err != nil {
		return nil, err
	}
	peeled, typ, err := s.Peel(oid)
	if err != nil {
		return nil, err
	}
	if typ != objstore.ObjCommit {
		return nil, fmt.Errorf("%s is a %v, not a commit", rev, typ)
	}
	return s.Commit(peeled)
}
