package chat

import (
	"testing"

	"github.com/petervdpas/nearchat/internal/peers"
)

func TestStoreAppendOrderAndUnread(t *testing.T) {
	s := NewStore()
	alice := peers.Identity{ID: "alice#1", DisplayName: "alice"}

	s.Append("alice#1", NewText(alice, "one"))
	s.AppendInbound("alice#1", NewText(alice, "two"))
	s.AppendInbound("alice#1", NewText(alice, "three"))

	msgs := s.Messages("alice#1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Content != want {
			t.Fatalf("message %d out of order: %q", i, msgs[i].Content)
		}
	}

	// Only inbound appends count as unread.
	if n := s.Unread("alice#1"); n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}

	s.AppendInbound("bob#2", NewText(peers.Identity{ID: "bob#2"}, "hi"))
	if n := s.TotalUnread(); n != 3 {
		t.Fatalf("expected 3 total unread, got %d", n)
	}

	s.MarkRead("alice#1")
	if n := s.Unread("alice#1"); n != 0 {
		t.Fatalf("unread not reset, got %d", n)
	}
	if n := s.TotalUnread(); n != 1 {
		t.Fatalf("expected 1 total unread after MarkRead, got %d", n)
	}
}

func TestStoreMessagesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append("k", NewText(peers.Identity{ID: "a"}, "original"))

	out := s.Messages("k")
	out[0].Content = "mutated"

	if got := s.Messages("k")[0].Content; got != "original" {
		t.Fatalf("caller mutation leaked into the store: %q", got)
	}
}

func TestStoreUnknownKey(t *testing.T) {
	s := NewStore()
	if msgs := s.Messages("nobody"); msgs != nil {
		t.Fatalf("expected nil for unknown key, got %v", msgs)
	}
	if n := s.Unread("nobody"); n != 0 {
		t.Fatalf("expected 0 unread for unknown key, got %d", n)
	}
	// MarkRead on an unknown key must not create a conversation.
	s.MarkRead("nobody")
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("expected no conversations, got %v", keys)
	}
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	s.AppendInbound("g1", NewText(peers.Identity{ID: "a"}, "hi"))
	s.Delete("g1")

	if msgs := s.Messages("g1"); msgs != nil {
		t.Fatal("conversation survived delete")
	}
	if n := s.TotalUnread(); n != 0 {
		t.Fatalf("unread survived delete: %d", n)
	}
}
