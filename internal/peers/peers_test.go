package peers

import "testing"

func TestDuplicateHolderExcludesMaster(t *testing.T) {
	s := New([]string{"node-a", "node-b", "node-c"})
	for _, key := range []string{"p0", "p1", "p2", "p3", "p4"} {
		holder, err := s.DuplicateHolder(key, "node-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if holder == "node-a" {
			t.Fatalf("duplicate holder must not equal master, got %q for key %q", holder, key)
		}
	}
}

func TestDuplicateHolderDeterministic(t *testing.T) {
	s := New([]string{"node-a", "node-b", "node-c"})
	a, err := s.DuplicateHolder("p0", "node-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.DuplicateHolder("p0", "node-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("expected deterministic lookup, got %q != %q", a, b)
	}
}

func TestDuplicateHolderRequiresTwoNodes(t *testing.T) {
	s := New([]string{"node-a"})
	if _, err := s.DuplicateHolder("p0", "node-a"); err == nil {
		t.Fatal("expected error with only one node")
	}
}

func TestUpdateChangesNodeSet(t *testing.T) {
	s := New([]string{"node-a", "node-b"})
	s.Update([]string{"node-x", "node-y", "node-z"})
	nodes := s.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes after update, got %d", len(nodes))
	}
}
