package fdpass

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// NoFD is returned by ReceiveMessage when a frame carried no
// descriptor.
const NoFD = -1

// SendMessage writes one framed payload, attaching fd as SCM_RIGHTS
// ancillary data when fd >= 0. The kernel binds the descriptor to the
// first byte of the frame, so a receiver that reads the frame always
// picks up the descriptor with it.
func SendMessage(conn *net.UnixConn, payload []byte, fd int) error {
	if len(payload) > maxPayload {
		return ErrPayloadTooLarge
	}
	frame := appendFrame(make([]byte, 0, headerSize+len(payload)), payload)

	var rights []byte
	if fd >= 0 {
		rights = unix.UnixRights(fd)
	}
	n, _, err := conn.WriteMsgUnix(frame, rights, nil)
	if err != nil {
		return fmt.Errorf("sending control message: %w", err)
	}
	if n < len(frame) {
		// The descriptor rode along with the first chunk; push the rest
		// as plain bytes.
		if _, err := conn.Write(frame[n:]); err != nil {
			return fmt.Errorf("sending control message tail: %w", err)
		}
	}
	return nil
}

// ReceiveMessage reads one framed payload and any descriptor attached
// to it. The returned fd is NoFD when the frame carried none; the
// caller owns the descriptor otherwise.
func ReceiveMessage(conn *net.UnixConn) ([]byte, int, error) {
	header := make([]byte, headerSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(header, oob)
	if err != nil {
		return nil, NoFD, err
	}
	fd, err := parseRights(oob[:oobn])
	if err != nil {
		return nil, NoFD, err
	}
	if n < headerSize {
		if _, err := io.ReadFull(conn, header[n:]); err != nil {
			closeIgnored(fd)
			return nil, NoFD, err
		}
	}

	if !bytes.Equal(header[:len(magic)], magic) {
		closeIgnored(fd)
		return nil, NoFD, ErrBadMagic
	}
	size := binary.LittleEndian.Uint32(header[len(magic):])
	if size > maxPayload {
		closeIgnored(fd)
		return nil, NoFD, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		closeIgnored(fd)
		return nil, NoFD, err
	}
	return payload, fd, nil
}

// parseRights extracts at most one descriptor from ancillary data.
func parseRights(oob []byte) (int, error) {
	if len(oob) == 0 {
		return NoFD, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return NoFD, fmt.Errorf("parsing ancillary data: %w", err)
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			// A well-behaved peer sends one descriptor per frame; any
			// extras would leak, so close them.
			for _, extra := range fds[1:] {
				unix.Close(extra)
			}
			return fds[0], nil
		}
	}
	return NoFD, nil
}

func closeIgnored(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

// Close releases a descriptor received from ReceiveMessage that the
// caller will not use.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
