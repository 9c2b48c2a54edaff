package objstore

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Hash represents a raw Git object identifier.
//
// It is the 20-byte binary form of a SHA-1 digest as used by Git internally.
// The zero value is the all-zero hash, which never resolves to a real object.
// Hashes are totally ordered by their byte value; see Compare.
type Hash [20]byte

// ParseHash converts a 40-char hex string to Hash.
//
// An error is returned when the input • is not exactly 40 runes long or • cannot
// be decoded as hexadecimal.
// The zero Hash value (all zero bytes) never corresponds to a real Git object
// and is therefore safe to use as a sentinel in maps.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 40 {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// String returns the canonical 40-character lowercase hex spelling.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first seven hex characters, the abbreviation Git prints
// by default.
func (h Hash) Short() string { return h.String()[:7] }

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == Hash{} }

// Compare orders hashes by byte value and returns -1, 0 or +1.
func (h Hash) Compare(other Hash) int { return bytes.Compare(h[:], other[:]) }

// HashObject computes the content address of payload stored as typ.
//
// The digest covers the canonical envelope "<type> <len>\x00<payload>",
// exactly as Git hashes loose objects.
func HashObject(typ ObjectType, payload []byte) Hash {
	d := sha1.New()
	d.Write(envelopeHeader(typ, len(payload)))
	d.Write(payload)
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// envelopeHeader renders "<type> <len>\x00".
func envelopeHeader(typ ObjectType, n int) []byte {
	hdr := make([]byte, 0, 16)
	hdr = append(hdr, typ.String()...)
	hdr = append(hdr, ' ')
	hdr = strconv.AppendInt(hdr, int64(n), 10)
	return append(hdr, 0)
}
