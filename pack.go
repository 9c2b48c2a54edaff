package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/mmap"
)

const packHeaderSize = 12 // "PACK" + version + object count.

var packMagic = []byte("PACK")

// ErrObjectExceedsPackBounds reports an idx entry that points into or past
// the pack trailer.
var ErrObjectExceedsPackBounds = fmt.Errorf("%w: object extends past pack trailer", ErrCorruptObject)

// packFile is one opened (idx, pack) pair.
//
// The pack is memory-mapped read-only for the lifetime of the Store; the idx
// is read into memory once and discarded. A packFile is immutable after
// openPack returns.
type packFile struct {
	// name is the base name of the pack without extension, used in logs and
	// error messages.
	name string

	// data is the mapped *.pack file.
	data sizedReaderAt

	// closer releases data. It is nil for packs built in memory.
	closer io.Closer

	// idx holds the parsed lookup tables of the companion *.idx.
	idx *packIndex

	// objects is the object count from the pack header.
	objects uint32
}

// packPaths lists the idx files in dir that have a companion pack, in
// file-name order. A missing dir yields no packs.
func packPaths(dir string) ([]string, error) {
	idxs, err := filepath.Glob(filepath.Join(dir, "pack-*.idx"))
	if err != nil {
		return nil, err
	}
	out := idxs[:0]
	for _, p := range idxs {
		if _, err := os.Stat(strings.TrimSuffix(p, ".idx") + ".pack"); err == nil {
			out = append(out, p)
		}
	}
	// Glob returns matches in lexical order already.
	return out, nil
}

// openPack parses idxPath and maps the pack next to it. Both files are held
// under a shared advisory lock while they are read. The idx is decoded into
// memory once; only the pack stays mapped for the life of the packFile.
func openPack(idxPath string) (*packFile, error) {
	packPath := strings.TrimSuffix(idxPath, ".idx") + ".pack"

	var ix *packIndex
	err := withSharedLock(idxPath, func(f *os.File) error {
		var err error
		ix, err = parseIdx(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("idx %s: %w", filepath.Base(idxPath), err)
	}

	var data *mmap.ReaderAt
	err = withSharedLock(packPath, func(*os.File) error {
		var err error
		data, err = mmap.Open(packPath)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", filepath.Base(packPath), err)
	}

	pf, err := newPackFile(strings.TrimSuffix(filepath.Base(idxPath), ".idx"), data, ix)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("pack %s: %w", filepath.Base(packPath), err)
	}
	pf.closer = data
	return pf, nil
}

// newPackFile validates the pack header of data against ix.
func newPackFile(name string, data sizedReaderAt, ix *packIndex) (*packFile, error) {
	var hdr [packHeaderSize]byte
	if _, err := data.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: pack header", ErrTruncatedInput)
		}
		return nil, err
	}
	if !bytes.Equal(hdr[:4], packMagic) {
		return nil, fmt.Errorf("%w: bad pack magic %q", ErrUnsupportedFormat, hdr[:4])
	}
	version, _ := uint32At(hdr[:], 4)
	if version != 2 {
		return nil, fmt.Errorf("%w: pack version %d", ErrUnsupportedFormat, version)
	}
	count, _ := uint32At(hdr[:], 8)
	if int(count) != ix.count() {
		return nil, corruptf("pack holds %d objects, idx lists %d", count, ix.count())
	}
	if data.Len() < packHeaderSize+hashSize {
		return nil, fmt.Errorf("%w: pack has no trailer", ErrTruncatedInput)
	}
	return &packFile{name: name, data: data, idx: ix, objects: count}, nil
}

// trailerStart is the offset of the 20-byte pack checksum.
func (pf *packFile) trailerStart() uint64 { return uint64(pf.data.Len() - hashSize) }

func (pf *packFile) close() error {
	if pf.closer == nil {
		return nil
	}
	err := pf.closer.Close()
	pf.closer = nil
	return err
}

// withSharedLock opens path, holds a shared advisory lock on it for the
// duration of fn, then releases it.
func withSharedLock(path string, fn func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := lockShared(f); err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = unlock(f) }()
	return fn(f)
}
