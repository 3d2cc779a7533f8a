package invite

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/nearchat/internal/peers"
)

func TestBrokerAcceptDecline(t *testing.T) {
	b := NewBroker(time.Minute, nil)
	alice := peers.Identity{ID: "alice#1", DisplayName: "alice"}

	var got atomic.Int32
	inv := b.Add(alice, func(accept bool) {
		if accept {
			got.Store(1)
		} else {
			got.Store(-1)
		}
	})

	if len(b.Pending()) != 1 {
		t.Fatal("expected one pending invitation")
	}

	if err := b.Accept(inv.ID); err != nil {
		t.Fatal(err)
	}
	if got.Load() != 1 {
		t.Fatal("accept decision did not reach the transport")
	}
	if len(b.Pending()) != 0 {
		t.Fatal("invitation still pending after accept")
	}

	// Resolving twice is an error, and the decision must not fire again.
	if err := b.Accept(inv.ID); err != ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
	if err := b.Decline(inv.ID); err != ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
	if got.Load() != 1 {
		t.Fatal("decision fired more than once")
	}
}

func TestBrokerTimeoutAutoDeclines(t *testing.T) {
	expired := make(chan Invitation, 1)
	b := NewBroker(20*time.Millisecond, func(inv Invitation) { expired <- inv })

	declined := make(chan bool, 1)
	inv := b.Add(peers.Identity{ID: "bob#2"}, func(accept bool) { declined <- accept })

	select {
	case accept := <-declined:
		if accept {
			t.Fatal("timeout must decline, not accept")
		}
	case <-time.After(time.Second):
		t.Fatal("invitation never timed out")
	}

	select {
	case got := <-expired:
		if got.ID != inv.ID {
			t.Fatalf("expired callback saw wrong invitation: %s", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("onExpire never fired")
	}

	// The expired invitation is gone; a late manual decision is rejected.
	if err := b.Accept(inv.ID); err != ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound after timeout, got %v", err)
	}
}

func TestBrokerManualBeatsTimer(t *testing.T) {
	b := NewBroker(30*time.Millisecond, func(Invitation) {
		t.Error("onExpire fired after a manual decision")
	})

	var calls atomic.Int32
	inv := b.Add(peers.Identity{ID: "carol#3"}, func(bool) { calls.Add(1) })

	if err := b.Decline(inv.ID); err != nil {
		t.Fatal(err)
	}

	// Give the timer a chance to misfire.
	time.Sleep(80 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("decision fired %d times, want 1", n)
	}
}

func TestBrokerDeclineAll(t *testing.T) {
	b := NewBroker(time.Minute, nil)

	var declines atomic.Int32
	for i := 0; i < 3; i++ {
		b.Add(peers.Identity{ID: "p"}, func(accept bool) {
			if !accept {
				declines.Add(1)
			}
		})
	}

	b.DeclineAll()
	if n := declines.Load(); n != 3 {
		t.Fatalf("expected 3 declines, got %d", n)
	}
	if len(b.Pending()) != 0 {
		t.Fatal("pending set not empty after DeclineAll")
	}
}

func TestBrokerPendingOldestFirst(t *testing.T) {
	b := NewBroker(time.Minute, nil)
	first := b.Add(peers.Identity{ID: "first"}, nil)
	time.Sleep(2 * time.Millisecond)
	second := b.Add(peers.Identity{ID: "second"}, nil)

	p := b.Pending()
	if len(p) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(p))
	}
	if p[0].ID != first.ID || p[1].ID != second.ID {
		t.Fatal("pending invitations not ordered oldest first")
	}
}
