package peers

import "testing"

func TestRegistryFoundAndLost(t *testing.T) {
	r := NewRegistry()
	alice := Identity{ID: "alice#1", DisplayName: "alice"}

	r.Found(alice, map[string]string{"app": "nearchat"})

	p, ok := r.Get("alice#1")
	if !ok {
		t.Fatal("expected alice to be known")
	}
	if p.State != NotConnected {
		t.Fatalf("new peer should be not connected, got %v", p.State)
	}
	if p.Metadata["app"] != "nearchat" {
		t.Fatalf("metadata not recorded: %v", p.Metadata)
	}

	// Re-announce merges metadata and keeps state.
	r.SetState(alice, Connecting)
	r.Found(alice, map[string]string{"v": "2"})
	p, _ = r.Get("alice#1")
	if p.State != Connecting {
		t.Fatalf("re-announce must not reset state, got %v", p.State)
	}
	if p.Metadata["app"] != "nearchat" || p.Metadata["v"] != "2" {
		t.Fatalf("metadata not merged: %v", p.Metadata)
	}

	// Lost must not remove a peer mid-handshake.
	if removed := r.Lost(alice); removed {
		t.Fatal("Lost removed a connecting peer")
	}

	r.SetState(alice, NotConnected)
	if removed := r.Lost(alice); !removed {
		t.Fatal("Lost should remove a not-connected peer")
	}
	if _, ok := r.Get("alice#1"); ok {
		t.Fatal("alice still known after Lost")
	}
}

func TestRegistrySetStateUnknownPeer(t *testing.T) {
	r := NewRegistry()
	bob := Identity{ID: "bob#2", DisplayName: "bob"}

	prev, known := r.SetState(bob, Connected)
	if known {
		t.Fatal("bob should not have been known")
	}
	if prev != NotConnected {
		t.Fatalf("previous state of an unknown peer should be zero, got %v", prev)
	}
	if !r.IsConnected("bob#2") {
		t.Fatal("bob should be connected after SetState")
	}
}

func TestRegistryClearDiscovered(t *testing.T) {
	r := NewRegistry()
	a := Identity{ID: "a", DisplayName: "a"}
	b := Identity{ID: "b", DisplayName: "b"}
	c := Identity{ID: "c", DisplayName: "c"}
	r.Found(a, nil)
	r.Found(b, nil)
	r.Found(c, nil)
	r.SetState(b, Connecting)
	r.SetState(c, Connected)

	r.ClearDiscovered()

	if _, ok := r.Get("a"); ok {
		t.Fatal("not-connected peer survived ClearDiscovered")
	}
	if _, ok := r.Get("b"); !ok {
		t.Fatal("connecting peer must survive ClearDiscovered")
	}
	if _, ok := r.Get("c"); !ok {
		t.Fatal("connected peer must survive ClearDiscovered")
	}

	r.Clear()
	if len(r.Snapshot()) != 0 {
		t.Fatal("Clear should remove everything")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Found(Identity{ID: "x", DisplayName: "x"}, map[string]string{"k": "v"})

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(snap))
	}
	snap[0].Metadata["k"] = "mutated"

	p, _ := r.Get("x")
	if p.Metadata["k"] != "v" {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestRegistryConnectedSubset(t *testing.T) {
	r := NewRegistry()
	r.SetState(Identity{ID: "b"}, Connected)
	r.SetState(Identity{ID: "a"}, Connected)
	r.SetState(Identity{ID: "c"}, Connecting)

	conn := r.Connected()
	if len(conn) != 2 {
		t.Fatalf("expected 2 connected peers, got %d", len(conn))
	}
	if conn[0].Identity.ID != "a" || conn[1].Identity.ID != "b" {
		t.Fatalf("connected peers not ordered by id: %v, %v", conn[0].Identity.ID, conn[1].Identity.ID)
	}
}
