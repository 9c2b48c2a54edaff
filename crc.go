// crc.go
//
// Integrity checks for packfiles: CRC-32 of individual entries against the
// values recorded in a version 2 pack index, the SHA-1 trailer that closes
// every pack, and the cross-pack consistency sweep behind Store.Verify.

package objstore

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
)

var (
	ErrNonMonotonicOffsets = fmt.Errorf("%w: idx offsets not monotonic", ErrCorruptObject)
	ErrPackTrailerCorrupt  = fmt.Errorf("%w: pack trailer checksum mismatch", ErrCorruptObject)
	ErrCRCMismatch         = fmt.Errorf("%w: entry crc mismatch", ErrCorruptObject)
)

// verifyEntryCRC streams the still-compressed bytes of the entry at objOff
// into a CRC-32 and compares the result with the checksum the idx recorded.
//
// The entry ends where the next one begins or, for the final entry, at the
// pack trailer. Version 1 indices carry no checksums; for them the call is a
// no-op.
func verifyEntryCRC(pf *packFile, objOff uint64) error {
	want, ok := pf.idx.crcAt(objOff)
	if !ok {
		return nil
	}

	trailerStart := pf.trailerStart()
	objEnd, ok := pf.idx.entryEnd(objOff, trailerStart)
	if !ok {
		return corruptf("offset %d not found in index", objOff)
	}
	if objEnd > trailerStart {
		return ErrObjectExceedsPackBounds
	}
	if objEnd <= objOff {
		return ErrNonMonotonicOffsets
	}

	sec := io.NewSectionReader(pf.data, int64(objOff), int64(objEnd-objOff))
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, sec); err != nil {
		return err
	}
	if got := h.Sum32(); got != want {
		return fmt.Errorf("%w @%d: got %08x want %08x", ErrCRCMismatch, objOff, got, want)
	}
	return nil
}

// verifyPackTrailer recomputes the SHA-1 over everything but the last 20
// bytes of the pack and compares it with the trailer, and with the pack
// checksum the idx recorded.
func verifyPackTrailer(pf *packFile) error {
	size := pf.data.Len()
	if size < hashSize {
		return fmt.Errorf("%w: pack too small for trailer", ErrTruncatedInput)
	}

	trailer := make([]byte, hashSize)
	if _, err := pf.data.ReadAt(trailer, int64(size-hashSize)); err != nil {
		return fmt.Errorf("failed to read pack trailer: %w", err)
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(pf.data, 0, int64(size-hashSize))); err != nil {
		return fmt.Errorf("failed to checksum pack: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return ErrPackTrailerCorrupt
	}
	if !bytes.Equal(trailer, pf.idx.packSum[:]) {
		return fmt.Errorf("%w: idx records a different pack checksum", ErrPackTrailerCorrupt)
	}
	return nil
}

// VerifyReport summarizes a Store.Verify run.
type VerifyReport struct {
	// Packs is the number of packs checked.
	Packs int

	// Objects is the number of entries across all packs.
	Objects int

	// Duplicates lists hashes present in more than one pack. Lookups
	// resolve them from the first pack in search order.
	Duplicates []Hash
}

// Verify checks every pack trailer and, when entries carry CRCs, every
// entry checksum. Objects stored in more than one pack are reported and
// logged at warn level; they are legal but suggest an interrupted repack.
//
// The first integrity failure stops the sweep and is returned together with
// the partial report.
func (s *Store) Verify() (*VerifyReport, error) {
	rep := &VerifyReport{}
	owner := make(map[Hash]string)

	for _, pf := range s.packs {
		if err := verifyPackTrailer(pf); err != nil {
			return rep, fmt.Errorf("pack %s: %w", pf.name, err)
		}
		for _, off := range pf.idx.sortedOffsets {
			if err := verifyEntryCRC(pf, off); err != nil {
				return rep, fmt.Errorf("pack %s: %w", pf.name, err)
			}
		}
		for _, oid := range pf.idx.oids {
			if first, dup := owner[oid]; dup {
				rep.Duplicates = append(rep.Duplicates, oid)
				s.log.Warn("object stored in multiple packs",
					slog.String("oid", oid.String()),
					slog.String("first", first),
					slog.String("also", pf.name))
				continue
			}
			owner[oid] = pf.name
		}
		rep.Packs++
		rep.Objects += pf.idx.count()
	}
	return rep, nil
}
