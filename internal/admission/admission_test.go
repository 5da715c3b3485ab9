package admission

import "testing"

func TestAdmitDefaultsUnlimited(t *testing.T) {
	c := NewController()
	for i := 0; i < 1000; i++ {
		if !c.Admit("test") {
			t.Fatal("expected unlimited namespace to always admit")
		}
	}
}

func TestSetLimitShedsExcess(t *testing.T) {
	c := NewController()
	c.SetLimit("test", 1)
	admitted := 0
	for i := 0; i < 5; i++ {
		if c.Admit("test") {
			admitted++
		}
	}
	if admitted == 0 {
		t.Fatal("expected at least the initial burst to be admitted")
	}
	if admitted == 5 {
		t.Fatal("expected some requests to be shed at a tight limit")
	}
}

func TestSetLimitZeroRestoresUnlimited(t *testing.T) {
	c := NewController()
	c.SetLimit("test", 1)
	c.SetLimit("test", 0)
	for i := 0; i < 1000; i++ {
		if !c.Admit("test") {
			t.Fatal("expected limit=0 to mean unlimited")
		}
	}
}

func TestNamespacesAreIndependent(t *testing.T) {
	c := NewController()
	c.SetLimit("throttled", 1)
	for i := 0; i < 1000; i++ {
		if !c.Admit("other") {
			t.Fatal("expected unconfigured namespace to remain unlimited")
		}
	}
}
