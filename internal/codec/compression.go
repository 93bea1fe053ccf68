package codec

import (
	"io"
	"strings"

	"github.com/golang/snappy"
)

// Compression identifies the framing applied to a CSV stream.
type Compression int

const (
	// None is plain CSV.
	None Compression = iota
	// Snappy is a snappy framed stream, used for names ending in .sz.
	Snappy
)

// SnappyExt is the file extension of snappy framed streams.
const SnappyExt = ".sz"

// ForName picks the compression from a file or object name.
func ForName(name string) Compression {
	if strings.HasSuffix(strings.ToLower(name), SnappyExt) {
		return Snappy
	}
	return None
}

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case Snappy:
		return "snappy"
	default:
		return "none"
	}
}

// WrapReader returns a reader that decompresses r.
func (c Compression) WrapReader(r io.Reader) io.Reader {
	if c == Snappy {
		return snappy.NewReader(r)
	}
	return r
}

// WrapWriter returns a writer that compresses into w. Close flushes the
// compressed stream but does not close w.
func (c Compression) WrapWriter(w io.Writer) io.WriteCloser {
	if c == Snappy {
		return snappy.NewBufferedWriter(w)
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
