package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes guards against a corrupt length prefix turning a read
// into an unbounded allocation.
const maxFrameBytes = 64 << 20

// WriteFrame msgpack-encodes v and writes it as a 4-byte big-endian
// length prefix followed by the encoded bytes, matching the framing
// person_detector_python.go uses for its stdin/stdout subprocess
// protocol (sendFrame/readResults).
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame blocks until one length-prefixed msgpack frame is available
// on r and decodes it into v. io.EOF is returned verbatim so callers can
// distinguish a clean stream close from a corrupt frame.
func ReadFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
