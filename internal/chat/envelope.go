package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFileTooLarge is returned when a file message exceeds MaxFileBytes.
var ErrFileTooLarge = errors.New("file exceeds the 10 MiB attachment limit")

// ErrBadEnvelope is returned when inbound bytes do not decode to a usable
// envelope. Never surfaced to callers; the receive path logs and drops.
var ErrBadEnvelope = errors.New("malformed message envelope")

// Envelope is the wire format for one message in transit. Destination is the
// conversation key at the receiver: the target peer id for 1:1 messages or
// the group id for group fan-out, so receivers never have to guess from the
// sender alone. Not retained after decode.
type Envelope struct {
	Message       Message `json:"message"`
	OriginSession string  `json:"originSession"`
	Destination   string  `json:"destination"`
}

// Encode serializes the envelope for the transport.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses inbound bytes and validates the fields the receive
// path relies on.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	switch e.Message.Type {
	case TypeText, TypeFile, TypeSystem, TypeTyping:
	default:
		return Envelope{}, fmt.Errorf("%w: unknown message type %q", ErrBadEnvelope, e.Message.Type)
	}
	if e.Message.ID == "" {
		return Envelope{}, fmt.Errorf("%w: missing message id", ErrBadEnvelope)
	}
	if e.Message.Type == TypeFile {
		if e.Message.File == nil {
			return Envelope{}, fmt.Errorf("%w: file message without attachment", ErrBadEnvelope)
		}
		if e.Message.File.SizeBytes > MaxFileBytes || int64(len(e.Message.File.Data)) > MaxFileBytes {
			return Envelope{}, fmt.Errorf("%w: %w", ErrBadEnvelope, ErrFileTooLarge)
		}
	}
	return e, nil
}
