package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single action/response payload, guarding the accept
// loop against a misbehaving client claiming an unbounded length prefix.
const maxFrameSize = 16 << 20 // 16 MiB

// writeFrame writes a single length-prefixed message: a 4-byte big-endian
// length followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: writing frame payload: %w", err)
	}
	return nil
}

// readFrame reads a single length-prefixed message written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds maximum of %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: reading frame payload: %w", err)
	}
	return payload, nil
}
