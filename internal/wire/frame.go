// Package wire implements the length-delimited frame codec and message
// types that flow between clients, the gateway, workers, and peer workers.
// A frame is a 4-byte big-endian length prefix followed by a JSON-encoded
// envelope, grounded on the length-prefixed stream framing used throughout
// the example pack's peer-to-peer protocols (binary.BigEndian length header
// + a marshaled body read in one shot).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"dagsched/internal/dserrors"
)

// MaxFrameSize bounds a single frame to guard against a malformed length
// prefix exhausting memory.
const MaxFrameSize = 64 << 20 // 64 MiB

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, dserrors.Wrap(err, "reading frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, dserrors.Protocolf("frame length %d exceeds maximum %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, dserrors.Wrap(err, "reading frame body")
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: frame body of %d bytes exceeds maximum %d", len(body), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return dserrors.Wrap(err, "writing frame length")
	}
	if _, err := w.Write(body); err != nil {
		return dserrors.Wrap(err, "writing frame body")
	}
	return nil
}
