package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
)

// maxEntryHeader bounds the bytes needed to decode an entry header plus its
// delta base reference: at most ten size bytes and a 20-byte base hash.
const maxEntryHeader = 32

// packEntry is the decoded prefix of one pack entry.
type packEntry struct {
	// off is where the entry starts.
	off uint64

	// typ is the on-disk type, which may be a delta kind.
	typ ObjectType

	// size is the inflated length of the payload. For deltas that is the
	// length of the instruction stream, not of the result.
	size uint64

	// baseOff is the absolute offset of an ofs-delta's base.
	baseOff uint64

	// baseHash names a ref-delta's base.
	baseHash Hash

	// dataStart is the first byte of the compressed payload.
	dataStart uint64
}

// entryAt decodes the header of the entry that starts at off.
//
// For ofs-deltas the base distance must be non-zero and must not reach back
// before the start of the pack; either violation is ErrCorruptObject.
func (pf *packFile) entryAt(off uint64) (packEntry, error) {
	if off < packHeaderSize || off >= pf.trailerStart() {
		return packEntry{}, fmt.Errorf("%w: entry offset %d", ErrObjectExceedsPackBounds, off)
	}

	var hdr [maxEntryHeader]byte
	n, err := pf.data.ReadAt(hdr[:], int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return packEntry{}, err
	}
	buf := hdr[:n]

	pos := 0
	typ, size, err := entryHeaderAt(buf, &pos)
	if err != nil {
		return packEntry{}, err
	}
	e := packEntry{off: off, typ: typ, size: size}

	switch typ {
	case ObjCommit, ObjTree, ObjBlob, ObjTag:
	case ObjOfsDelta:
		rel, err := ofsOffsetAt(buf, &pos)
		if err != nil {
			return packEntry{}, err
		}
		if rel == 0 || rel > off {
			return packEntry{}, corruptf("ofs-delta at %d points %d bytes back", off, rel)
		}
		e.baseOff = off - rel
	case ObjRefDelta:
		if err := need(buf, pos, hashSize); err != nil {
			return packEntry{}, err
		}
		copy(e.baseHash[:], buf[pos:pos+hashSize])
		pos += hashSize
	default:
		return packEntry{}, corruptf("entry at %d has unknown type %d", off, typ)
	}

	e.dataStart = off + uint64(pos)
	return e, nil
}

// inflate decompresses the payload of e and checks that it is exactly as
// long as the entry header claims.
//
// The compressed length is unknown, so the codec reads from a section that
// runs to the pack trailer and stops at the end of the DEFLATE stream.
func (s *Store) inflate(pf *packFile, e packEntry) ([]byte, error) {
	end := pf.trailerStart()
	if e.dataStart >= end {
		return nil, fmt.Errorf("%w: entry at %d", ErrObjectExceedsPackBounds, e.off)
	}
	sec := io.NewSectionReader(pf.data, int64(e.dataStart), int64(end-e.dataStart))
	br := getBR(sec)
	defer putBR(br)

	zr, err := s.codec.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate entry at %d: %w", ErrCorruptObject, e.off, err)
	}
	defer zr.Close()

	data, err := readExactly(zr, e.size)
	if err != nil {
		return nil, fmt.Errorf("entry at %d: %w", e.off, err)
	}
	return data, nil
}

// readExactly drains r and returns its contents, which must be exactly size
// bytes long.
func readExactly(r io.Reader, size uint64) ([]byte, error) {
	if size >= math.MaxInt64 {
		return nil, corruptf("declared size %d", size)
	}
	var out bytes.Buffer
	out.Grow(int(min(size, 1<<20)))
	n, err := out.ReadFrom(io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrCorruptObject, err)
	}
	if uint64(n) != size {
		return nil, corruptf("inflated %d bytes, header declares %d", n, size)
	}
	return out.Bytes(), nil
}

// readPacked materializes the entry at off inside s.packs[pi].
//
// Base entries are inflated directly. An ofs-delta resolves its base in the
// same pack; a ref-delta resolves its base through the full lookup path,
// which may land in another pack or in loose storage. Both recurse through
// ctx, which rejects cycles and chains deeper than the configured limit.
func (s *Store) readPacked(pi int, off uint64, ctx *deltaContext) (Record, error) {
	pf := s.packs[pi]
	ctx.offsets[packOffset{pi, off}] = true

	e, err := pf.entryAt(off)
	if err != nil {
		return Record{}, err
	}
	if s.verifyCRC {
		if err := verifyEntryCRC(pf, off); err != nil {
			return Record{}, err
		}
	}

	payload, err := s.inflate(pf, e)
	if err != nil {
		return Record{}, err
	}
	if e.typ.isBase() {
		return Record{Type: e.typ, Data: payload}, nil
	}

	var base Record
	switch e.typ {
	case ObjOfsDelta:
		next := packOffset{pi, e.baseOff}
		if err := ctx.checkOfsDelta(next); err != nil {
			return Record{}, err
		}
		ctx.enterOfsDelta(next)
		base, err = s.readPacked(pi, e.baseOff, ctx)
		ctx.exit()
	case ObjRefDelta:
		if err := ctx.checkRefDelta(e.baseHash); err != nil {
			return Record{}, err
		}
		ctx.enterRefDelta(e.baseHash)
		base, err = s.lookup(e.baseHash, ctx)
		ctx.exit()
	}
	if err != nil {
		return Record{}, fmt.Errorf("delta base of entry at %d: %w", off, err)
	}

	out, err := applyDelta(base.Data, payload)
	if err != nil {
		return Record{}, fmt.Errorf("%w: entry at %d: %w", ErrCorruptObject, off, err)
	}
	return Record{Type: base.Type, Data: out}, nil
}
