package objstore

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// makeHash builds a hash whose bytes are all fill except the first, which
// is first. It makes fan-out boundaries easy to hit.
func makeHash(first, fill byte) Hash {
	var h Hash
	for i := range h {
		h[i] = fill
	}
	h[0] = first
	return h
}

func mustHash(t testing.TB, s string) Hash {
	t.Helper()
	h, err := ParseHash(s)
	require.NoError(t, err)
	return h
}

func zlibBytes(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

/* ---- delta encoding ------------------------------------------------- */

func appendVarInt(out []byte, v uint64) []byte {
	for v >= 0x80 {
		out = append(out, byte(v)|0x80)
		v >>= 7
	}
	return append(out, byte(v))
}

// deltaOp is one encoded copy or insert instruction.
type deltaOp []byte

func copyOp(off, n uint32) deltaOp {
	op := []byte{0x80}
	for i := range 4 {
		if b := byte(off >> (8 * i)); b != 0 {
			op[0] |= 1 << i
			op = append(op, b)
		}
	}
	if n != 0x10000 {
		for i := range 3 {
			if b := byte(n >> (8 * i)); b != 0 {
				op[0] |= 0x10 << i
				op = append(op, b)
			}
		}
	}
	return op
}

func insertOp(data string) deltaOp {
	if len(data) == 0 || len(data) > 0x7f {
		panic("insertOp: length must be 1..127")
	}
	return append(deltaOp{byte(len(data))}, data...)
}

func makeDelta(baseLen, resultLen int, ops ...deltaOp) []byte {
	out := appendVarInt(nil, uint64(baseLen))
	out = appendVarInt(out, uint64(resultLen))
	for _, op := range ops {
		out = append(out, op...)
	}
	return out
}

/* ---- pack and idx encoding ------------------------------------------ */

func encodeEntryHeader(typ ObjectType, size uint64) []byte {
	b := byte(typ)<<4 | byte(size&0x0f)
	size >>= 4
	var out []byte
	for size > 0 {
		out = append(out, b|0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	return append(out, b)
}

func encodeOfsDistance(rel uint64) []byte {
	out := []byte{byte(rel & 0x7f)}
	rel >>= 7
	for rel > 0 {
		rel--
		out = append([]byte{byte(0x80 | rel&0x7f)}, out...)
		rel >>= 7
	}
	return out
}

type idxEntry struct {
	oid Hash
	off uint64
	crc uint32
}

func sortedIdxEntries(entries []idxEntry) []idxEntry {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(a, b idxEntry) int { return a.oid.Compare(b.oid) })
	return out
}

func appendFanout(out []byte, entries []idxEntry) []byte {
	var fanout [256]uint32
	for _, e := range entries {
		for b := int(e.oid[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	for _, n := range fanout {
		out = binary.BigEndian.AppendUint32(out, n)
	}
	return out
}

func sealIdx(out []byte, packSum Hash) []byte {
	out = append(out, packSum[:]...)
	sum := sha1.Sum(out)
	return append(out, sum[:]...)
}

// resealIdx recomputes the trailing idx checksum after a test patched buf.
func resealIdx(buf []byte) []byte {
	sum := sha1.Sum(buf[:len(buf)-hashSize])
	copy(buf[len(buf)-hashSize:], sum[:])
	return buf
}

// buildIdxV2 encodes a version 2 index. With forceLarge every offset is
// routed through the 64-bit table.
func buildIdxV2(entries []idxEntry, packSum Hash, forceLarge bool) []byte {
	entries = sortedIdxEntries(entries)
	out := append([]byte{}, idxV2Magic...)
	out = binary.BigEndian.AppendUint32(out, 2)
	out = appendFanout(out, entries)
	for _, e := range entries {
		out = append(out, e.oid[:]...)
	}
	for _, e := range entries {
		out = binary.BigEndian.AppendUint32(out, e.crc)
	}
	var large []uint64
	for _, e := range entries {
		if forceLarge || e.off >= largeOffsetFlag {
			out = binary.BigEndian.AppendUint32(out, largeOffsetFlag|uint32(len(large)))
			large = append(large, e.off)
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(e.off))
	}
	for _, off := range large {
		out = binary.BigEndian.AppendUint64(out, off)
	}
	return sealIdx(out, packSum)
}

func buildIdxV1(entries []idxEntry, packSum Hash) []byte {
	entries = sortedIdxEntries(entries)
	out := appendFanout(nil, entries)
	for _, e := range entries {
		out = binary.BigEndian.AppendUint32(out, uint32(e.off))
		out = append(out, e.oid[:]...)
	}
	return sealIdx(out, packSum)
}

// packBuilder assembles a version 2 pack in memory together with the idx
// entries describing it.
type packBuilder struct {
	body    bytes.Buffer
	entries []idxEntry

	// magic and version override the header when set.
	magic   string
	version uint32
}

func newPackBuilder() *packBuilder { return &packBuilder{magic: "PACK", version: 2} }

// addRaw appends an entry verbatim: header, optional delta base reference and
// compressed payload. oid is what the idx will list for it.
func (b *packBuilder) addRaw(oid Hash, typ ObjectType, size uint64, baseRef, compressed []byte) uint64 {
	off := uint64(packHeaderSize + b.body.Len())
	var entry []byte
	entry = append(entry, encodeEntryHeader(typ, size)...)
	entry = append(entry, baseRef...)
	entry = append(entry, compressed...)
	b.body.Write(entry)
	b.entries = append(b.entries, idxEntry{oid: oid, off: off, crc: crc32.ChecksumIEEE(entry)})
	return off
}

func (b *packBuilder) addObject(t testing.TB, typ ObjectType, payload []byte) (uint64, Hash) {
	oid := HashObject(typ, payload)
	return b.addRaw(oid, typ, uint64(len(payload)), nil, zlibBytes(t, payload)), oid
}

func (b *packBuilder) addOfsDelta(t testing.TB, baseOff uint64, delta []byte, oid Hash) uint64 {
	off := uint64(packHeaderSize + b.body.Len())
	return b.addRaw(oid, ObjOfsDelta, uint64(len(delta)), encodeOfsDistance(off-baseOff), zlibBytes(t, delta))
}

func (b *packBuilder) addRefDelta(t testing.TB, base Hash, delta []byte, oid Hash) uint64 {
	return b.addRaw(oid, ObjRefDelta, uint64(len(delta)), base[:], zlibBytes(t, delta))
}

// pack returns the complete pack, trailer included, and its checksum.
func (b *packBuilder) pack() ([]byte, Hash) {
	out := []byte(b.magic)
	out = binary.BigEndian.AppendUint32(out, b.version)
	out = binary.BigEndian.AppendUint32(out, uint32(len(b.entries)))
	out = append(out, b.body.Bytes()...)
	sum := sha1.Sum(out)
	return append(out, sum[:]...), Hash(sum)
}

// write stores the pack and a v2 idx (or v1 when v1 is set) as
// objects/pack/pack-<name>.{pack,idx} below gitDir.
func (b *packBuilder) write(t testing.TB, gitDir, name string, v1 bool) {
	t.Helper()
	data, sum := b.pack()
	var idx []byte
	if v1 {
		idx = buildIdxV1(b.entries, sum)
	} else {
		idx = buildIdxV2(b.entries, sum, false)
	}
	dir := filepath.Join(gitDir, "objects", "pack")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack-"+name+".pack"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack-"+name+".idx"), idx, 0o644))
}

/* ---- repositories --------------------------------------------------- */

// newGitDir creates an empty repository layout and returns its path.
func newGitDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"objects/pack", "refs/heads", "refs/tags"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0o755))
	}
	return dir
}

func openStore(t testing.TB, gitDir string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(gitDir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// writeLooseFile stores envelope, compressed, as the loose file for oid
// without any validation.
func writeLooseFile(t testing.TB, gitDir string, oid Hash, envelope []byte) {
	t.Helper()
	hex := oid.String()
	dir := filepath.Join(gitDir, "objects", hex[:2])
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, hex[2:]), zlibBytes(t, envelope), 0o444))
}

func writeRef(t testing.TB, gitDir, ref, content string) {
	t.Helper()
	path := filepath.Join(gitDir, filepath.FromSlash(ref))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mustWrite(t testing.TB, s *Store, obj Object) Hash {
	t.Helper()
	oid, err := s.WriteObject(obj)
	require.NoError(t, err)
	return oid
}

func mustBlob(t testing.TB, s *Store, content string) Hash {
	t.Helper()
	oid, err := s.WriteRaw(ObjBlob, []byte(content))
	require.NoError(t, err)
	return oid
}

// buildTree writes blobs for files (path -> content) into s and returns the
// root tree, with every intermediate tree persisted.
func buildTree(t testing.TB, s *Store, files map[string]string) *Tree {
	t.Helper()
	root := EmptyTree(s)
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		u, err := root.UpdateNode(p, ModeFile, mustBlob(t, s, files[p]))
		require.NoError(t, err)
		_, err = s.WriteTreeUpdate(u)
		require.NoError(t, err)
		root = u.Root
	}
	return root
}

var testStamp = Stamp{Name: "Ada Lovelace", Email: "ada@example.com", When: 1700000000, Zone: "+0100"}

func commitOn(t testing.TB, s *Store, tree *Tree, msg string, parents ...Hash) *Commit {
	t.Helper()
	c := &Commit{
		Tree:      tree.Hash(),
		Parents:   parents,
		Author:    testStamp,
		Committer: testStamp,
		Message:   msg,
	}
	oid := mustWrite(t, s, c)
	loaded, err := s.Commit(oid)
	require.NoError(t, err)
	return loaded
}
