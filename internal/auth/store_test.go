package auth

import "testing"

func TestStore(t *testing.T) {
	var s Store

	if _, ok := s.Current(); ok {
		t.Fatal("expected empty store")
	}
	if err := s.Set(Credential{Username: "alice"}); err == nil {
		t.Error("expected error for credential without token")
	}

	if err := s.Set(Credential{Username: "alice", Token: "t0k"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	c, ok := s.Current()
	if !ok || c.Username != "alice" || c.Token != "t0k" {
		t.Errorf("unexpected credential: %+v (ok=%v)", c, ok)
	}
	if s.Username() != "alice" {
		t.Errorf("expected alice, got %q", s.Username())
	}

	s.Clear()
	if _, ok := s.Current(); ok {
		t.Error("expected cleared store")
	}
	if s.Username() != "" {
		t.Errorf("expected empty username, got %q", s.Username())
	}
}
