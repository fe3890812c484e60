package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"msgpack-rpc/message"
)

const (
	DefaultMaxFrameSize = 16 << 20 // 16 MiB
	initialBufferSize   = 4 << 10
)

// ErrFrameTooLarge is returned when a single frame does not fit in the reader's
// maximum buffer. Like ErrInvalidFrame it is fatal for the connection.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// Reader decodes frames from a byte stream.
//
// It keeps a growable buffer of unread bytes and only reads from the underlying
// reader when the buffered bytes end in the middle of a frame. A partial frame
// is measured from its headers, not decoded, and is not measured again until
// the bytes it is known to need have arrived. Reader is not safe for concurrent
// use, one goroutine owns the read side of a connection.
type Reader struct {
	r            io.Reader
	buf          []byte
	start, end   int // buf[start:end] holds unread bytes
	need         int // buffered bytes required before the next attempt
	maxFrameSize int

	br  bytes.Reader
	dec *msgpack.Decoder
}

// NewReader creates a Reader. maxFrameSize <= 0 selects DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Reader{
		r:            r,
		buf:          make([]byte, min(initialBufferSize, maxFrameSize)),
		need:         1,
		maxFrameSize: maxFrameSize,
		dec:          newDecoder(),
	}
}

// ReadMessage returns the next message of the stream.
// io.EOF is returned only on a clean end of stream between two frames.
func (r *Reader) ReadMessage() (message.Message, error) {
	for {
		if r.Buffered() >= r.need {
			size, ok := frameSize(r.buf[r.start:r.end])
			if !ok {
				if size > r.maxFrameSize {
					return nil, fmt.Errorf("%w: at least %d bytes, limit is %d", ErrFrameTooLarge, size, r.maxFrameSize)
				}
				r.need = size
			} else {
				msg, err := decodeFrame(&r.br, r.dec, r.buf[r.start:r.start+size])
				if err != nil {
					return nil, err
				}
				r.start += size
				r.need = 1
				if r.start == r.end {
					r.start, r.end = 0, 0
				}
				return msg, nil
			}
		}

		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded.
func (r *Reader) Buffered() int {
	return r.end - r.start
}

func (r *Reader) fill() error {
	if r.start > 0 {
		copy(r.buf, r.buf[r.start:r.end])
		r.end -= r.start
		r.start = 0
	}

	if r.end == len(r.buf) || r.need > len(r.buf) {
		if len(r.buf) >= r.maxFrameSize {
			return fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, r.maxFrameSize)
		}
		grown := make([]byte, min(max(2*len(r.buf), r.need), r.maxFrameSize))
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	n, err := r.r.Read(r.buf[r.end:])
	r.end += n
	if n > 0 {
		return nil
	}
	if errors.Is(err, io.EOF) && r.end > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}
