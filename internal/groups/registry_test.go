package groups

import "testing"

func connectedSet(ids ...string) func(string) bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}

func TestCreateRequiresTwoDistinctRemoteMembers(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		name    string
		members []string
	}{
		{"empty", nil},
		{"single", []string{"a"}},
		{"duplicates", []string{"a", "a", "a"}},
		{"local counted out", []string{"me", "a"}},
		{"blank ids", []string{"", "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Create("g", "me", tc.members, nil); err != ErrInsufficientMembers {
				t.Fatalf("expected ErrInsufficientMembers, got %v", err)
			}
		})
	}

	g, err := r.Create("g", "me", []string{"a", "b", "a", "me"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.MemberIDs) != 2 || g.MemberIDs[0] != "a" || g.MemberIDs[1] != "b" {
		t.Fatalf("unexpected members: %v", g.MemberIDs)
	}
}

func TestActiveDerivedFromConnectivity(t *testing.T) {
	r := NewRegistry()

	g, err := r.Create("g", "me", []string{"a", "b"}, connectedSet())
	if err != nil {
		t.Fatal(err)
	}
	if g.Active {
		t.Fatal("group with no connected members must start inactive")
	}

	r.Recompute(connectedSet("b"))
	got, _ := r.Get(g.ID)
	if !got.Active {
		t.Fatal("group should be active once any member connects")
	}

	r.Recompute(connectedSet())
	got, _ = r.Get(g.ID)
	if got.Active {
		t.Fatal("group should go inactive when the last member disconnects")
	}
}

func TestMembershipMutation(t *testing.T) {
	r := NewRegistry()
	g, err := r.Create("g", "me", []string{"a", "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.AddMember(g.ID, "c", connectedSet("c")); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(g.ID)
	if len(got.MemberIDs) != 3 || !got.Active {
		t.Fatalf("add member: %+v", got)
	}

	// Adding an existing member is a no-op.
	if err := r.AddMember(g.ID, "c", nil); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(g.ID)
	if len(got.MemberIDs) != 3 {
		t.Fatalf("duplicate add changed membership: %v", got.MemberIDs)
	}

	// A group may shrink below two members without being deleted.
	if err := r.RemoveMember(g.ID, "a", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveMember(g.ID, "b", nil); err != nil {
		t.Fatal(err)
	}
	got, ok := r.Get(g.ID)
	if !ok {
		t.Fatal("group deleted by shrinking")
	}
	if len(got.MemberIDs) != 1 {
		t.Fatalf("expected 1 member left, got %v", got.MemberIDs)
	}

	if err := r.AddMember("nope", "x", nil); err != ErrGroupNotFound {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestDeleteGroup(t *testing.T) {
	r := NewRegistry()
	g, _ := r.Create("g", "me", []string{"a", "b"}, nil)

	if !r.Delete(g.ID) {
		t.Fatal("delete of existing group returned false")
	}
	if r.Delete(g.ID) {
		t.Fatal("second delete returned true")
	}
	if _, ok := r.Get(g.ID); ok {
		t.Fatal("group still present after delete")
	}
}
