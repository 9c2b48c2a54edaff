package objstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("empty repository", func(t *testing.T) {
		s := openStore(t, newGitDir(t))
		assert.Empty(t, s.packs)
		assert.Equal(t, defaultMaxDeltaDepth, s.deltaDepth())
	})

	t.Run("no pack directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "objects"), 0o755))
		s := openStore(t, dir)
		assert.Empty(t, s.packs)
	})

	t.Run("not a git directory", func(t *testing.T) {
		_, err := Open(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("idx without pack is ignored", func(t *testing.T) {
		dir := newGitDir(t)
		idx := buildIdxV2(nil, Hash{}, false)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "objects", "pack", "pack-lonely.idx"), idx, 0o644))
		s := openStore(t, dir)
		assert.Empty(t, s.packs)
	})

	t.Run("multiple packs in name order", func(t *testing.T) {
		dir := newGitDir(t)
		for _, name := range []string{"b", "a", "c"} {
			b := newPackBuilder()
			b.addObject(t, ObjBlob, []byte("content "+name))
			b.write(t, dir, name, false)
		}
		s := openStore(t, dir)
		require.Len(t, s.packs, 3)
		assert.Equal(t, "pack-a", s.packs[0].name)
		assert.Equal(t, "pack-b", s.packs[1].name)
		assert.Equal(t, "pack-c", s.packs[2].name)
	})

	t.Run("options", func(t *testing.T) {
		cache := NewMapCache()
		s := openStore(t, newGitDir(t), WithCache(cache), WithMaxDeltaDepth(7), WithVerifyCRC(true))
		assert.Same(t, cache, s.cache)
		assert.Equal(t, 7, s.deltaDepth())
		assert.True(t, s.verifyCRC)
		s.SetMaxDeltaDepth(3)
		assert.Equal(t, 3, s.deltaDepth())
	})
}

func TestOpenRejectsBadPacks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *packBuilder)
		want   error
	}{
		{"bad magic", func(b *packBuilder) { b.magic = "PACX" }, ErrUnsupportedFormat},
		{"version 3", func(b *packBuilder) { b.version = 3 }, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newGitDir(t)
			b := newPackBuilder()
			b.addObject(t, ObjBlob, []byte("x"))
			tt.mutate(b)
			b.write(t, dir, "bad", false)
			_, err := Open(dir)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("count mismatch", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		b.addObject(t, ObjBlob, []byte("x"))
		data, sum := b.pack()
		binary.BigEndian.PutUint32(data[8:], 2)
		packDir := filepath.Join(dir, "objects", "pack")
		require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack-n.pack"), data, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack-n.idx"), buildIdxV2(b.entries, sum, false), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("corrupt idx", func(t *testing.T) {
		dir := newGitDir(t)
		packDir := filepath.Join(dir, "objects", "pack")
		require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack-x.pack"), []byte("PACK"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(packDir, "pack-x.idx"), []byte("invalid"), 0o644))
		_, err := Open(dir)
		assert.ErrorIs(t, err, ErrTruncatedInput)
	})
}

func TestGetPacked(t *testing.T) {
	for _, v1 := range []bool{false, true} {
		t.Run(fmt.Sprintf("v1=%v", v1), func(t *testing.T) {
			dir := newGitDir(t)
			b := newPackBuilder()
			_, blob := b.addObject(t, ObjBlob, []byte("hello, pack\n"))
			_, empty := b.addObject(t, ObjBlob, nil)
			big := []byte(strings.Repeat("large payload line\n", 500))
			_, bigID := b.addObject(t, ObjBlob, big)
			b.write(t, dir, "one", v1)

			s := openStore(t, dir)

			data, typ, err := s.Get(blob)
			require.NoError(t, err)
			assert.Equal(t, ObjBlob, typ)
			assert.Equal(t, "hello, pack\n", string(data))

			data, typ, err = s.Get(empty)
			require.NoError(t, err)
			assert.Equal(t, ObjBlob, typ)
			assert.Empty(t, data)

			data, _, err = s.Get(bigID)
			require.NoError(t, err)
			assert.Equal(t, big, data)

			assert.True(t, s.Has(blob))
			assert.False(t, s.Has(makeHash(0x12, 0x34)))
		})
	}
}

func TestGetNotFound(t *testing.T) {
	s := openStore(t, newGitDir(t))
	_, _, err := s.Get(makeHash(0xab, 0xcd))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = s.Object(makeHash(0xab, 0xcd))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

// deltaPack builds a pack holding a base blob, an ofs-delta against it and a
// ref-delta against the ofs-delta.
func deltaPack(t *testing.T) (dir string, base, ofs, ref Hash) {
	t.Helper()
	dir = newGitDir(t)
	baseData := []byte("The quick brown fox jumps over the lazy dog.\n")
	ofsData := []byte("The quick red fox jumps over the lazy dog.\n")
	refData := []byte("The quick red fox jumps over the lazy dog!\nAgain.\n")

	b := newPackBuilder()
	baseOff, base := b.addObject(t, ObjBlob, baseData)

	ofs = HashObject(ObjBlob, ofsData)
	b.addOfsDelta(t, baseOff, makeDelta(len(baseData), len(ofsData),
		copyOp(0, 10), insertOp("red"), copyOp(15, uint32(len(baseData)-15))), ofs)

	ref = HashObject(ObjBlob, refData)
	b.addRefDelta(t, ofs, makeDelta(len(ofsData), len(refData),
		copyOp(0, uint32(len(ofsData)-2)), insertOp("!\nAgain.\n")), ref)

	b.write(t, dir, "delta", false)
	return dir, base, ofs, ref
}

func TestGetDeltas(t *testing.T) {
	dir, _, ofs, ref := deltaPack(t)

	for _, cache := range []struct {
		name string
		c    ObjectCache
	}{{"no cache", NoCache()}, {"map cache", NewMapCache()}} {
		t.Run(cache.name, func(t *testing.T) {
			s := openStore(t, dir, WithCache(cache.c), WithVerifyCRC(true))

			data, typ, err := s.Get(ofs)
			require.NoError(t, err)
			assert.Equal(t, ObjBlob, typ)
			assert.Equal(t, "The quick red fox jumps over the lazy dog.\n", string(data))

			data, typ, err = s.Get(ref)
			require.NoError(t, err)
			assert.Equal(t, ObjBlob, typ)
			assert.Equal(t, "The quick red fox jumps over the lazy dog!\nAgain.\n", string(data))

			blob, err := s.Blob(ref)
			require.NoError(t, err)
			assert.Equal(t, data, blob.Data)
		})
	}
}

func TestRefDeltaAgainstLooseBase(t *testing.T) {
	dir := newGitDir(t)
	baseData := []byte("loose base content\n")
	resultData := []byte("loose base content\nplus more\n")

	s := openStore(t, dir)
	base, err := s.WriteRaw(ObjBlob, baseData)
	require.NoError(t, err)

	b := newPackBuilder()
	oid := HashObject(ObjBlob, resultData)
	b.addRefDelta(t, base, makeDelta(len(baseData), len(resultData),
		copyOp(0, uint32(len(baseData))), insertOp("plus more\n")), oid)
	b.write(t, dir, "thin", false)

	s = openStore(t, dir)
	data, _, err := s.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, resultData, data)
}

func TestRefDeltaAcrossPacks(t *testing.T) {
	dir := newGitDir(t)
	baseData := []byte("shared base\n")
	resultData := []byte("shared base\nextended\n")

	first := newPackBuilder()
	_, base := first.addObject(t, ObjBlob, baseData)
	first.write(t, dir, "b-base", false)

	second := newPackBuilder()
	oid := HashObject(ObjBlob, resultData)
	second.addRefDelta(t, base, makeDelta(len(baseData), len(resultData),
		copyOp(0, uint32(len(baseData))), insertOp("extended\n")), oid)
	second.write(t, dir, "a-delta", false)

	s := openStore(t, dir)
	data, _, err := s.Get(oid)
	require.NoError(t, err)
	assert.Equal(t, resultData, data)
}

func TestDeltaCycles(t *testing.T) {
	t.Run("ref-delta to itself", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		self := makeHash(0x42, 0x42)
		b.addRefDelta(t, self, makeDelta(1, 1, insertOp("x")), self)
		b.write(t, dir, "self", false)

		s := openStore(t, dir, WithCache(NoCache()))
		_, _, err := s.Get(self)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("two ref-deltas", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		a, c := makeHash(0x10, 0x01), makeHash(0x20, 0x02)
		b.addRefDelta(t, c, makeDelta(1, 1, insertOp("a")), a)
		b.addRefDelta(t, a, makeDelta(1, 1, insertOp("c")), c)
		b.write(t, dir, "loop", false)

		s := openStore(t, dir, WithCache(NoCache()))
		_, _, err := s.Get(a)
		assert.ErrorIs(t, err, ErrCorruptObject)
		_, _, err = s.Get(c)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("ref-delta back into an ofs chain", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		a, c := makeHash(0x30, 0x03), makeHash(0x40, 0x04)
		aOff := b.addRefDelta(t, c, makeDelta(1, 1, insertOp("a")), a)
		b.addOfsDelta(t, aOff, makeDelta(1, 1, insertOp("c")), c)
		b.write(t, dir, "mixed", false)

		s := openStore(t, dir, WithCache(NoCache()))
		_, _, err := s.Get(a)
		assert.ErrorIs(t, err, ErrCorruptObject)
		_, _, err = s.Get(c)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})
}

func TestDeltaDepthLimit(t *testing.T) {
	dir := newGitDir(t)
	b := newPackBuilder()
	content := []byte("v0\n")
	off, _ := b.addObject(t, ObjBlob, content)
	var chain []Hash
	for i := 1; i <= 4; i++ {
		next := append(append([]byte{}, content...), byte('0'+i))
		oid := HashObject(ObjBlob, next)
		off = b.addOfsDelta(t, off, makeDelta(len(content), len(next),
			copyOp(0, uint32(len(content))), insertOp(string(rune('0'+i)))), oid)
		chain = append(chain, oid)
		content = next
	}
	b.write(t, dir, "chain", false)

	s := openStore(t, dir, WithCache(NoCache()), WithMaxDeltaDepth(2))
	_, _, err := s.Get(chain[1]) // two hops
	require.NoError(t, err)
	_, _, err = s.Get(chain[2]) // three hops
	assert.ErrorIs(t, err, ErrCorruptObject)

	s.SetMaxDeltaDepth(4)
	data, _, err := s.Get(chain[3])
	require.NoError(t, err)
	assert.Equal(t, "v0\n1234", string(data))
}

func TestCorruptPackEntries(t *testing.T) {
	t.Run("size mismatch", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		oid := makeHash(0x01, 0x01)
		b.addRaw(oid, ObjBlob, 10, nil, zlibBytes(t, []byte("short")))
		b.write(t, dir, "size", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("not deflate", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		oid := makeHash(0x02, 0x02)
		b.addRaw(oid, ObjBlob, 4, nil, []byte("this is not zlib at all"))
		b.write(t, dir, "raw", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("reserved type", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		oid := makeHash(0x03, 0x03)
		b.addRaw(oid, ObjectType(5), 1, nil, zlibBytes(t, []byte("x")))
		b.write(t, dir, "type5", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("ofs-delta before pack start", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		oid := makeHash(0x04, 0x04)
		delta := makeDelta(0, 1, insertOp("x"))
		b.addRaw(oid, ObjOfsDelta, uint64(len(delta)), encodeOfsDistance(100), zlibBytes(t, delta))
		b.write(t, dir, "ofs", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})

	t.Run("bad delta stream", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		baseOff, _ := b.addObject(t, ObjBlob, []byte("0123456789"))
		oid := makeHash(0x05, 0x05)
		b.addOfsDelta(t, baseOff, makeDelta(10, 5, copyOp(8, 5)), oid)
		b.write(t, dir, "delta", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrCorruptObject)
		assert.ErrorIs(t, err, ErrCorruptDelta)
	})

	t.Run("missing ref-delta base", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		oid := makeHash(0x06, 0x06)
		b.addRefDelta(t, makeHash(0x07, 0x07), makeDelta(1, 1, insertOp("x")), oid)
		b.write(t, dir, "thin", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("crc mismatch", func(t *testing.T) {
		dir := newGitDir(t)
		b := newPackBuilder()
		_, oid := b.addObject(t, ObjBlob, []byte("checked"))
		b.entries[0].crc ^= 1
		b.write(t, dir, "crc", false)

		_, _, err := openStore(t, dir).Get(oid)
		assert.NoError(t, err, "CRCs are not checked by default")

		_, _, err = openStore(t, dir, WithVerifyCRC(true)).Get(oid)
		assert.ErrorIs(t, err, ErrCRCMismatch)
		assert.ErrorIs(t, err, ErrCorruptObject)
	})
}

func TestObjectVerifiesHash(t *testing.T) {
	dir := newGitDir(t)
	liar := makeHash(0x99, 0x99)
	writeLooseFile(t, dir, liar, []byte("blob 5\x00hello"))

	s := openStore(t, dir)
	data, typ, err := s.Get(liar)
	require.NoError(t, err, "raw access does not rehash")
	assert.Equal(t, ObjBlob, typ)
	assert.Equal(t, "hello", string(data))

	_, err = s.Object(liar)
	assert.ErrorIs(t, err, ErrCorruptObject)

	s = openStore(t, dir, WithHashVerification(false))
	obj, err := s.Object(liar)
	require.NoError(t, err)
	assert.Equal(t, liar, obj.Hash())
}

func TestTypedAccessors(t *testing.T) {
	s := openStore(t, newGitDir(t))
	tree := buildTree(t, s, map[string]string{"a.txt": "a\n"})
	c := commitOn(t, s, tree, "msg\n")
	blob := mustBlob(t, s, "a\n")

	_, err := s.Commit(blob)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.Tree(c.Hash())
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.Blob(tree.Hash())
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.Tag(blob)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	obj, err := s.Object(c.Hash())
	require.NoError(t, err)
	assert.IsType(t, &Commit{}, obj)
	obj, err = s.Object(tree.Hash())
	require.NoError(t, err)
	assert.IsType(t, &Tree{}, obj)
	obj, err = s.Object(blob)
	require.NoError(t, err)
	assert.IsType(t, &Blob{}, obj)
}

func TestPeel(t *testing.T) {
	s := openStore(t, newGitDir(t))
	tree := buildTree(t, s, map[string]string{"f": "f\n"})
	c := commitOn(t, s, tree, "peel me\n")

	inner := mustWrite(t, s, &Tag{Object: c.Hash(), TargetType: "commit", Name: "v1", Message: "inner\n"})
	outer := mustWrite(t, s, &Tag{Object: inner, TargetType: "tag", Name: "v1-signed", Message: "outer\n"})

	for _, start := range []Hash{c.Hash(), inner, outer} {
		oid, typ, err := s.Peel(start)
		require.NoError(t, err)
		assert.Equal(t, c.Hash(), oid)
		assert.Equal(t, ObjCommit, typ)
	}

	oid, typ, err := s.Peel(tree.Hash())
	require.NoError(t, err)
	assert.Equal(t, tree.Hash(), oid)
	assert.Equal(t, ObjTree, typ)

	dangling := mustWrite(t, s, &Tag{Object: makeHash(0x55, 0x55), TargetType: "blob", Name: "gone"})
	_, _, err = s.Peel(dangling)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestConcurrentGet(t *testing.T) {
	dir, base, ofs, ref := deltaPack(t)
	s := openStore(t, dir, WithCache(NewMapCache()))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			oid := []Hash{base, ofs, ref}[i%3]
			if _, _, err := s.Get(oid); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClose(t *testing.T) {
	dir, base, _, _ := deltaPack(t)
	cache := NewMapCache()
	s, err := Open(dir, WithCache(cache))
	require.NoError(t, err)
	_, _, err = s.Get(base)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")
	assert.Zero(t, cache.Len())

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
}
