package objstore

import (
	"io"

	"github.com/klauspost/compress/zlib"
)

// Codec is the DEFLATE transform applied to loose-object files and to the
// payload of every pack entry.
//
// NewReader must stop at the end of the compressed stream even when r has
// more data behind it: pack entries are read from a section that extends to
// the end of the pack because their compressed length is not recorded.
type Codec interface {
	NewReader(r io.Reader) (io.ReadCloser, error)
	NewWriter(w io.Writer) (io.WriteCloser, error)
}

// ZlibCodec returns the default Codec, backed by klauspost/compress/zlib with
// pooled readers.
func ZlibCodec() Codec { return zlibCodec{level: zlib.DefaultCompression} }

// ZlibCodecLevel is ZlibCodec with an explicit compression level for writes.
func ZlibCodecLevel(level int) Codec { return zlibCodec{level: level} }

type zlibCodec struct{ level int }

func (c zlibCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := getZlibReader(r)
	if err != nil {
		return nil, err
	}
	return &pooledZlibReader{ReadCloser: zr}, nil
}

func (c zlibCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriterLevel(w, c.level)
}

// pooledZlibReader hands its reader back to the pool on Close.
type pooledZlibReader struct {
	io.ReadCloser
	closed bool
}

func (p *pooledZlibReader) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ReadCloser.Close()
	putZlibReader(p.ReadCloser)
	return err
}
