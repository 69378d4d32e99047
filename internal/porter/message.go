package porter

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Control channel verbs. Requests flow backend to porter and are
// answered with verbReply; verbTakeConnection flows porter to backend,
// carrying the client descriptor as ancillary data on the same frame.
const (
	verbLogin            = "login"
	verbRegisterPath     = "registerPath"
	verbDeregisterPath   = "deregisterPath"
	verbRegisterPrefix   = "registerPrefix"
	verbDeregisterPrefix = "deregisterPrefix"
	verbGetPort          = "getPort"
	verbReply            = "reply"
	verbTakeConnection   = "takeConnection"
)

// controlMessage is the CBOR envelope exchanged on the control socket.
type controlMessage struct {
	Verb string `cbor:"verb"`

	Username string `cbor:"username,omitempty"`
	Password string `cbor:"password,omitempty"`

	Path string `cbor:"path,omitempty"`

	OK    bool   `cbor:"ok,omitempty"`
	Error string `cbor:"error,omitempty"`
	Port  int    `cbor:"port,omitempty"`

	// RequestLine and Buffered replay what the porter consumed off the
	// client socket before the handoff.
	RequestLine string `cbor:"request_line,omitempty"`
	Buffered    []byte `cbor:"buffered,omitempty"`
}

func encodeMessage(msg controlMessage) ([]byte, error) {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Verb, err)
	}
	return payload, nil
}

func decodeMessage(payload []byte) (controlMessage, error) {
	var msg controlMessage
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return controlMessage{}, fmt.Errorf("decoding control message: %w", err)
	}
	return msg, nil
}
