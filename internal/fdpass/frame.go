// Package fdpass moves serialized control messages, optionally carrying
// an open file descriptor, across Unix stream sockets.
//
// Each message is framed as a fixed magic prefix, a little-endian
// 32-bit payload length, and the payload bytes. The magic guards
// against desynchronized streams: a peer that lost framing fails fast
// instead of interpreting payload bytes as a length.
package fdpass

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// magic prefixes every frame on the control socket.
var magic = []byte{
	0xfd, 0xfc, 0x8e, 0x7f, 0x07, 0x47, 0xb9, 0xea,
	0xa1, 0x75, 0xee, 0xd8, 0xdc, 0x36, 0xc8, 0xa3,
}

var headerSize = len(magic) + 4

// maxPayload bounds a frame; control messages are tiny and anything
// bigger means the stream is corrupt.
const maxPayload = 1 << 20

// Framing errors.
var (
	ErrBadMagic        = errors.New("bad frame magic")
	ErrPayloadTooLarge = errors.New("frame payload too large")
)

// appendFrame serializes a payload into wire form.
func appendFrame(dst, payload []byte) []byte {
	dst = append(dst, magic...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one framed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxPayload {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(appendFrame(make([]byte, 0, headerSize+len(payload)), payload))
	return err
}

// ReadFrame reads exactly one framed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	size := binary.LittleEndian.Uint32(header[len(magic):])
	if size > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
