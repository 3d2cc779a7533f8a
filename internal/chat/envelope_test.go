package chat

import (
	"errors"
	"testing"

	"github.com/petervdpas/nearchat/internal/peers"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	alice := peers.Identity{ID: "alice#1", DisplayName: "alice"}
	env := Envelope{
		Message:       NewText(alice, "hello"),
		OriginSession: "session-1",
		Destination:   "bob#2",
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.OriginSession != "session-1" || got.Destination != "bob#2" {
		t.Fatalf("routing fields lost: %+v", got)
	}
	if got.Message.ID != env.Message.ID || got.Message.Content != "hello" {
		t.Fatalf("message mangled: %+v", got.Message)
	}
	if got.Message.Type != TypeText {
		t.Fatalf("wrong type: %v", got.Message.Type)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("not json"),
		[]byte(`{}`),
		[]byte(`{"message":{"id":"x","type":"bogus"}}`),
		[]byte(`{"message":{"type":"text"}}`), // missing id
		[]byte(`{"message":{"id":"x","type":"file"}}`), // file without attachment
	} {
		if _, err := DecodeEnvelope(data); !errors.Is(err, ErrBadEnvelope) {
			t.Fatalf("expected ErrBadEnvelope for %q, got %v", data, err)
		}
	}
}

func TestDecodeEnvelopeFileSizeLimit(t *testing.T) {
	alice := peers.Identity{ID: "alice#1", DisplayName: "alice"}

	atLimit := Envelope{Message: NewFile(alice, "big.bin", "application/octet-stream", make([]byte, MaxFileBytes))}
	data, err := atLimit.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeEnvelope(data); err != nil {
		t.Fatalf("a file at exactly the limit must decode: %v", err)
	}

	over := Envelope{Message: NewFile(alice, "big.bin", "application/octet-stream", make([]byte, MaxFileBytes+1))}
	data, err = over.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeEnvelope(data); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge one byte over the limit, got %v", err)
	}
}
