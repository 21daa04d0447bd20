package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Stream framing: [4B frame length little-endian][frame]. A zero length is
// a keepalive and carries no frame.
const FrameHeaderSize = 4

// MaxFrameSize is the largest frame accepted from the stream (4 MB).
const MaxFrameSize = 4 * 1024 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes one length-prefixed frame to w. An empty frame writes a
// keepalive.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	// One Write per frame.
	out := make([]byte, FrameHeaderSize+len(frame))
	binary.LittleEndian.PutUint32(out[:FrameHeaderSize], uint32(len(frame)))
	copy(out[FrameHeaderSize:], frame)
	_, err := w.Write(out)
	return err
}

// ReadFrame reads one length-prefixed frame from r. A keepalive returns an
// empty, non-nil slice.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, frame); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return frame, nil
}

// WriteMessage encodes m and writes it as one frame.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}
