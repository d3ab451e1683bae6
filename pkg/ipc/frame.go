package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rexliu/vsockpep/pkg/core"
)

// HeaderSize is the width of the big-endian length prefix.
const HeaderSize = 4

// Encode prepends a 4-byte big-endian length to payload.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("encode frame: payload of %d bytes exceeds u32 length", len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// ReadFrame reads one length-prefixed payload from r. It returns the whole
// payload or an error, never a partial payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, 0)
}

// ReadFrameLimit is ReadFrame with an upper bound on the declared length.
// A limit of zero disables the check.
func ReadFrameLimit(r io.Reader, limit uint32) ([]byte, error) {
	return readFrame(r, limit)
}

// WriteFrame writes payload to w with a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	return writeAll(w, frame)
}

func readFrame(r io.Reader, limit uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, shortRead(core.ErrShortHeader, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if limit > 0 && length > limit {
		return nil, &core.Error{
			Kind: core.KindTransport,
			Op:   "read frame",
			Err:  fmt.Errorf("%w: %d > %d", core.ErrFrameTooLarge, length, limit),
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, shortRead(core.ErrShortPayload, err)
	}
	return buf, nil
}

// shortRead classifies a ReadFull failure. EOF in any form is a short read;
// anything else (deadline, reset) is left to the caller to classify.
func shortRead(which, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &core.Error{Kind: core.KindShortRead, Op: "read frame", Err: which}
	}
	return fmt.Errorf("read frame: %w", err)
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("write frame: %w", io.ErrShortWrite)
		}
		buf = buf[n:]
	}
	return nil
}
