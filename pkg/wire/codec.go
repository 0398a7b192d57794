package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single encoded frame on a stream.
const MaxFrameSize = 64 << 10

type FrameCodec interface {
	ReadFrame(r io.Reader) (*Frame, error)
	WriteFrame(w io.Writer, f *Frame) error
}

// DefaultCodec prefixes every frame with its uvarint encoded length.
type DefaultCodec struct{}

func NewDefaultCodec() DefaultCodec {
	return DefaultCodec{}
}

// ReadFrame reads one frame. r should be an io.ByteReader (a *bufio.Reader) so that the length
// prefix can be read without over-reading.
func (DefaultCodec) ReadFrame(r io.Reader) (*Frame, error) {
	size, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return Unmarshal(buf)
}

// WriteFrame writes f with a single Write call, so message oriented writers get one frame per
// message.
func (DefaultCodec) WriteFrame(w io.Writer, f *Frame) error {
	payload := f.Marshal(nil)
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 0, binary.MaxVarintLen64+len(payload))
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

type oneByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (o *oneByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(o.r, o.buf[:]); err != nil {
		return 0, err
	}
	return o.buf[0], nil
}

func readUvarint(r io.Reader) (uint64, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &oneByteReader{r: r}
	}
	return binary.ReadUvarint(br)
}
