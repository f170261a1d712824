package bond

import "testing"

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewEngine(Config{Store: newMemStore()})); err == nil {
		t.Fatalf("expected unopened engine to be rejected")
	}

	h := newHarness(t)
	if err := registry.Register(h.engine); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(h.engine); err != nil {
		t.Fatalf("re-register same engine: %v", err)
	}
	if !registry.IsBond(h.bond) || registry.IsBond(aliceAddr) {
		t.Fatalf("unexpected IsBond result")
	}
	if got, ok := registry.Get(h.bond); !ok || got != h.engine {
		t.Fatalf("expected registered engine")
	}

	dup := newHarness(t)
	if err := registry.Register(dup.engine); err == nil {
		t.Fatalf("expected duplicate address with a different engine to fail")
	}
	if list := registry.List(); len(list) != 1 || list[0] != h.bond {
		t.Fatalf("unexpected list %v", list)
	}
}
