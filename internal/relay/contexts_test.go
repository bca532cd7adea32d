package relay

import "testing"

func TestContextStore_GetDefault(t *testing.T) {
	s := NewContextStore()
	if got := s.Get("discord:42"); got != "" {
		t.Errorf("expected empty token for unknown key, got %q", got)
	}
}

func TestContextStore_SetAndGet(t *testing.T) {
	s := NewContextStore()
	s.Set("discord:42", "abc")
	if got := s.Get("discord:42"); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}

func TestContextStore_SetEmptyIsNoOp(t *testing.T) {
	s := NewContextStore()
	s.Set("discord:42", "abc")
	s.Set("discord:42", "")
	if got := s.Get("discord:42"); got != "abc" {
		t.Errorf("empty set must not overwrite, got %q", got)
	}
}

func TestContextStore_Clear(t *testing.T) {
	s := NewContextStore()
	s.Set("discord:42", "abc")
	s.Clear("discord:42")
	if got := s.Get("discord:42"); got != "" {
		t.Errorf("expected empty after clear, got %q", got)
	}
}

func TestContextStore_KeysIsolated(t *testing.T) {
	s := NewContextStore()
	s.Set("discord:1", "one")
	s.Set("discord:2", "two")
	s.Clear("discord:1")
	if got := s.Get("discord:2"); got != "two" {
		t.Errorf("clearing one key must not touch another, got %q", got)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 stored token, got %d", s.Len())
	}
}
