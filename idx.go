package objstore

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"math"
	"slices"
)

// Pack-index layout constants.
const (
	fanoutEntries = 256               // One entry for every possible first byte of a SHA-1.
	fanoutSize    = fanoutEntries * 4 // 256 × uint32 → 1 024 bytes.

	hashSize     = 20 // Full SHA-1 hash.
	idxV2Header  = 8  // 4-byte magic + 4-byte version.
	idxV1Record  = 4 + hashSize
	crcSize      = 4 // Big-endian CRC-32 value per object.
	offsetSize   = 4 // 31-bit offset or MSB-set index into large-offset table.
	largeOffSize = 8 // 64-bit offset for objects beyond the 2 GiB boundary.
	trailerSize  = 2 * hashSize

	largeOffsetFlag = 0x80000000
)

var idxV2Magic = []byte{0xff, 't', 'O', 'c'}

var (
	ErrNonMonotonicFanout = fmt.Errorf("%w: idx fan-out table not monotonic", ErrCorruptObject)
	ErrBadIdxChecksum     = fmt.Errorf("%w: idx checksum mismatch", ErrCorruptObject)
)

// sizedReaderAt is what a pack's data is read through: *mmap.ReaderAt for
// packs on disk, a *bytes.Reader wrapper in tests.
type sizedReaderAt interface {
	io.ReaderAt
	Len() int
}

// packIndex holds the lookup tables of a single *.idx file.
//
// Both on-disk versions are normalized into the same parallel slices, so the
// lookup path does not care which one it was parsed from. The struct is
// immutable after parseIdx returns and may be shared across goroutines.
type packIndex struct {
	// version is 1 or 2.
	version int

	// fanout[b] stores the number of objects whose SHA-1 starts with a
	// byte ≤ b, enabling O(1) range selection before binary search.
	fanout [fanoutEntries]uint32

	// oids lists all object IDs in ascending order. offsets[i] and crcs[i]
	// describe oids[i].
	oids []Hash

	// offsets holds the absolute position of each entry in the pack.
	offsets []uint64

	// crcs holds the CRC-32 of each packed entry. It is nil for version 1
	// indices, which do not record checksums.
	crcs []uint32

	// packSum is the pack checksum copied from the idx trailer.
	packSum Hash

	// sortedOffsets lists every entry offset in ascending order. The end of
	// entry i is the start of the next one, or the pack trailer.
	sortedOffsets []uint64

	// byOffset maps an entry offset back to its position in oids.
	byOffset map[uint64]int
}

// parseIdx reads a Git pack index from r.
//
// Version 1 files have no header: the fan-out table sits at byte 0 and is
// followed by N records of (4-byte offset, 20-byte hash). Version 2 files
// start with the magic "\xfftOc" and a 4-byte version, then the fan-out, N
// hashes, N CRC-32s, N 4-byte offsets and the 8-byte large-offset table.
// Both end with the pack checksum and the checksum of the idx itself.
//
// Errors wrap ErrTruncatedInput when the file is too short for the tables its
// fan-out announces, ErrUnsupportedFormat for an unknown version, and
// ErrCorruptObject for inconsistent contents.
func parseIdx(r io.Reader) (*packIndex, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read idx: %w", err)
	}
	return parseIdxBytes(buf)
}

func parseIdxBytes(buf []byte) (*packIndex, error) {
	if len(buf) >= 4 && bytes.Equal(buf[:4], idxV2Magic) {
		version, err := uint32At(buf, 4)
		if err != nil {
			return nil, err
		}
		if version != 2 {
			return nil, fmt.Errorf("%w: idx version %d", ErrUnsupportedFormat, version)
		}
		return parseIdxV2(buf)
	}
	return parseIdxV1(buf)
}

// readFanout decodes the fan-out table at pos and validates that it is
// monotonically non-decreasing.
func readFanout(buf []byte, pos int) ([fanoutEntries]uint32, error) {
	var fanout [fanoutEntries]uint32
	words, err := uint32sAt(buf, pos, fanoutEntries)
	if err != nil {
		return fanout, err
	}
	copy(fanout[:], words)
	for i := 1; i < fanoutEntries; i++ {
		if fanout[i] < fanout[i-1] {
			return fanout, ErrNonMonotonicFanout
		}
	}
	return fanout, nil
}

func parseIdxV1(buf []byte) (*packIndex, error) {
	fanout, err := readFanout(buf, 0)
	if err != nil {
		return nil, err
	}
	n := int(fanout[255])
	if n > (math.MaxInt-fanoutSize-trailerSize)/idxV1Record {
		return nil, corruptf("idx claims %d objects", n)
	}
	if err := need(buf, fanoutSize, n*idxV1Record+trailerSize); err != nil {
		return nil, err
	}

	ix := &packIndex{
		version: 1,
		fanout:  fanout,
		oids:    make([]Hash, n),
		offsets: make([]uint64, n),
	}
	pos := fanoutSize
	for i := range n {
		off, _ := uint32At(buf, pos)
		ix.offsets[i] = uint64(off)
		copy(ix.oids[i][:], buf[pos+4:pos+idxV1Record])
		pos += idxV1Record
	}
	return ix.finish(buf, pos)
}

func parseIdxV2(buf []byte) (*packIndex, error) {
	fanout, err := readFanout(buf, idxV2Header)
	if err != nil {
		return nil, err
	}
	n := int(fanout[255])
	perObject := hashSize + crcSize + offsetSize
	if n > (math.MaxInt-idxV2Header-fanoutSize-trailerSize)/perObject {
		return nil, corruptf("idx claims %d objects", n)
	}
	oidBase := idxV2Header + fanoutSize
	crcBase := oidBase + n*hashSize
	offBase := crcBase + n*crcSize
	largeBase := offBase + n*offsetSize
	if err := need(buf, oidBase, largeBase-oidBase+trailerSize); err != nil {
		return nil, err
	}
	largeCount := (len(buf) - trailerSize - largeBase) / largeOffSize

	ix := &packIndex{
		version: 2,
		fanout:  fanout,
		oids:    make([]Hash, n),
		offsets: make([]uint64, n),
	}
	for i := range n {
		copy(ix.oids[i][:], buf[oidBase+i*hashSize:])
	}
	if ix.crcs, err = uint32sAt(buf, crcBase, n); err != nil {
		return nil, err
	}
	small, err := uint32sAt(buf, offBase, n)
	if err != nil {
		return nil, err
	}
	for i, off := range small {
		// MSB clear: a direct 31-bit offset. MSB set: the low 31 bits index
		// the large-offset table.
		if off&largeOffsetFlag == 0 {
			ix.offsets[i] = uint64(off)
			continue
		}
		li := int(off &^ largeOffsetFlag)
		if li >= largeCount {
			return nil, corruptf("large offset index %d outside %d-entry table", li, largeCount)
		}
		big, _ := uint64At(buf, largeBase+li*largeOffSize)
		if big > math.MaxInt64 {
			return nil, fmt.Errorf("%w: pack offset %#x not addressable", ErrUnsupportedFormat, big)
		}
		ix.offsets[i] = big
	}
	return ix.finish(buf, len(buf)-trailerSize)
}

// finish validates the object ordering and the idx checksum and builds the
// offset tables. trailerAt is where the two trailing checksums begin.
func (ix *packIndex) finish(buf []byte, trailerAt int) (*packIndex, error) {
	for i := 1; i < len(ix.oids); i++ {
		if ix.oids[i-1].Compare(ix.oids[i]) >= 0 {
			return nil, corruptf("idx object %d out of order", i)
		}
	}
	// Every hash must sit in the fan-out bucket of its first byte.
	for i, h := range ix.oids {
		lo := uint32(0)
		if h[0] > 0 {
			lo = ix.fanout[h[0]-1]
		}
		if uint32(i) < lo || uint32(i) >= ix.fanout[h[0]] {
			return nil, corruptf("idx object %s outside its fan-out bucket", h)
		}
	}

	if len(buf)-trailerAt != trailerSize {
		return nil, corruptf("idx has %d trailing bytes", len(buf)-trailerAt-trailerSize)
	}
	copy(ix.packSum[:], buf[trailerAt:])
	sum := sha1.Sum(buf[:len(buf)-hashSize])
	if !bytes.Equal(sum[:], buf[len(buf)-hashSize:]) {
		return nil, ErrBadIdxChecksum
	}

	ix.byOffset = make(map[uint64]int, len(ix.offsets))
	for i, off := range ix.offsets {
		if _, dup := ix.byOffset[off]; dup {
			return nil, corruptf("idx lists offset %d twice", off)
		}
		ix.byOffset[off] = i
	}
	ix.sortedOffsets = slices.Clone(ix.offsets)
	slices.Sort(ix.sortedOffsets)
	return ix, nil
}

// count returns the number of objects in the index.
func (ix *packIndex) count() int { return len(ix.oids) }

// locate looks up hash and returns the absolute byte offset of the object
// inside the companion pack.
//
// The method first consults the 256-entry fan-out table to narrow the search
// window to objects whose first digest byte matches hash[0].
// Within that window it performs a binary search over the sorted SHA-1 slice.
//
// The boolean result reports whether the object was present; when it is
// false offset is zero.
func (ix *packIndex) locate(hash Hash) (offset uint64, found bool) {
	first := hash[0]

	start := uint32(0)
	if first > 0 {
		start = ix.fanout[first-1]
	}
	end := ix.fanout[first]
	if start == end {
		return 0, false
	}

	rel, ok := slices.BinarySearchFunc(
		ix.oids[start:end],
		hash,
		func(a, b Hash) int { return bytes.Compare(a[:], b[:]) },
	)
	if !ok {
		return 0, false
	}
	return ix.offsets[int(start)+rel], true
}

// crcAt returns the recorded CRC-32 of the entry starting at off. The
// boolean is false for version 1 indices and unknown offsets.
func (ix *packIndex) crcAt(off uint64) (uint32, bool) {
	if ix.crcs == nil {
		return 0, false
	}
	i, ok := ix.byOffset[off]
	if !ok {
		return 0, false
	}
	return ix.crcs[i], true
}

// entryEnd returns the offset one past the last on-disk byte of the entry at
// off, given the position of the pack trailer.
func (ix *packIndex) entryEnd(off, trailerStart uint64) (uint64, bool) {
	i, ok := slices.BinarySearch(ix.sortedOffsets, off)
	if !ok {
		return 0, false
	}
	if i+1 < len(ix.sortedOffsets) {
		return ix.sortedOffsets[i+1], true
	}
	return trailerStart, true
}
