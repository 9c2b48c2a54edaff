package objstore

import (
	"encoding/binary"
	"fmt"
)

// Fixed-width readers over a byte slice.
//
// Every helper either returns a value decoded entirely from buf or an error
// wrapping ErrTruncatedInput; none of them panics on short input. Positions
// are absolute offsets into buf. The variable-length decoders take a cursor by
// pointer and advance it past the bytes they consumed, leaving it untouched on
// error.

func need(buf []byte, pos, n int) error {
	if pos < 0 || n < 0 || pos > len(buf) || len(buf)-pos < n {
		return fmt.Errorf("%w: need %d bytes at %d, have %d", ErrTruncatedInput, n, pos, len(buf))
	}
	return nil
}

// uint16At reads a big-endian 16-bit integer at pos.
func uint16At(buf []byte, pos int) (uint16, error) {
	if err := need(buf, pos, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[pos:]), nil
}

// uint32At reads a big-endian 32-bit integer at pos.
func uint32At(buf []byte, pos int) (uint32, error) {
	if err := need(buf, pos, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[pos:]), nil
}

// uint32sAt reads n consecutive big-endian 32-bit integers starting at pos.
func uint32sAt(buf []byte, pos, n int) ([]uint32, error) {
	if n < 0 || n > (len(buf)+3)/4 {
		return nil, fmt.Errorf("%w: %d words at %d, have %d bytes", ErrTruncatedInput, n, pos, len(buf))
	}
	if err := need(buf, pos, 4*n); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[pos+4*i:])
	}
	return out, nil
}

// uint64At reads a big-endian 64-bit integer at pos.
func uint64At(buf []byte, pos int) (uint64, error) {
	if err := need(buf, pos, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[pos:]), nil
}

// varIntAt decodes Git's little-endian base-128 integer, the encoding used by
// the two size fields that open every delta.
//
// Each byte contributes its low seven bits, least significant group first; a
// set high bit means another byte follows.
func varIntAt(buf []byte, pos *int) (uint64, error) {
	var (
		v     uint64
		shift uint
		p     = *pos
	)
	for {
		if p >= len(buf) || p < 0 {
			return 0, fmt.Errorf("%w: varint at %d", ErrTruncatedInput, *pos)
		}
		b := buf[p]
		p++
		if shift >= 64 || (shift == 63 && b&0x7e != 0) {
			return 0, fmt.Errorf("%w: varint at %d overflows 64 bits", ErrCorruptObject, *pos)
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	*pos = p
	return v, nil
}

// ofsOffsetAt decodes the negative base distance of an ofs-delta entry.
//
// The encoding is big-endian base-128 with an implicit +1 added before every
// continuation shift, so that no two byte sequences decode to the same value.
func ofsOffsetAt(buf []byte, pos *int) (uint64, error) {
	p := *pos
	if p >= len(buf) || p < 0 {
		return 0, fmt.Errorf("%w: ofs-delta offset at %d", ErrTruncatedInput, p)
	}
	b := buf[p]
	p++
	v := uint64(b & 0x7f)
	for b&0x80 != 0 {
		if p >= len(buf) {
			return 0, fmt.Errorf("%w: ofs-delta offset at %d", ErrTruncatedInput, *pos)
		}
		if v >= 1<<56 {
			return 0, fmt.Errorf("%w: ofs-delta offset at %d overflows 64 bits", ErrCorruptObject, *pos)
		}
		b = buf[p]
		p++
		v = ((v + 1) << 7) | uint64(b&0x7f)
	}
	*pos = p
	return v, nil
}

// entryHeaderAt decodes the type and inflated size that open every pack entry.
//
// The first byte carries the type in bits 4-6 and the low four size bits;
// continuation bytes append seven size bits each, starting at shift 4.
func entryHeaderAt(buf []byte, pos *int) (ObjectType, uint64, error) {
	p := *pos
	if p >= len(buf) || p < 0 {
		return ObjBad, 0, fmt.Errorf("%w: entry header at %d", ErrTruncatedInput, p)
	}
	b := buf[p]
	p++
	typ := ObjectType((b >> 4) & 7)
	size := uint64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		if p >= len(buf) {
			return ObjBad, 0, fmt.Errorf("%w: entry header at %d", ErrTruncatedInput, *pos)
		}
		if shift > 57 {
			return ObjBad, 0, fmt.Errorf("%w: entry size at %d overflows 64 bits", ErrCorruptObject, *pos)
		}
		b = buf[p]
		p++
		size |= uint64(b&0x7f) << shift
		shift += 7
	}
	*pos = p
	return typ, size, nil
}
