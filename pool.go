package objstore

import (
	"bufio"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// zrPool reuses zlib readers to reduce allocations. There is no exported
// zero-value constructor for a zlib reader, so the pool starts empty and
// getZlibReader allocates on a miss.
var zrPool sync.Pool

// brPool reuses bufio.Reader instances so that inflating a pack entry does
// not allocate a fresh read buffer every time.
var brPool = sync.Pool{
	New: func() any { return bufio.NewReaderSize(nil, 8<<10) },
}

// getZlibReader obtains a zlib reader from the pool or creates a new one.
// The reader is reset to consume src.
//
// getZlibReader returns an error if the zlib stream header is invalid.
func getZlibReader(src io.Reader) (io.ReadCloser, error) {
	if v := zrPool.Get(); v != nil {
		if zr, ok := v.(zlib.Resetter); ok {
			if err := zr.Reset(src, nil); err == nil {
				return v.(io.ReadCloser), nil
			}
		}
		// Could not reset (corrupt stream header); a fresh reader reports
		// the same error with full context.
	}
	return zlib.NewReader(src)
}

// putZlibReader returns a zlib reader to the pool for reuse. The caller must
// already have closed it.
func putZlibReader(r io.ReadCloser) { zrPool.Put(r) }

// getBR obtains a bufio.Reader from the pool and resets it to r.
func getBR(r io.Reader) *bufio.Reader {
	br := brPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// putBR detaches br from its source and returns it to the pool.
func putBR(br *bufio.Reader) {
	br.Reset(nil)
	brPool.Put(br)
}
