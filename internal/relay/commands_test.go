package relay

import (
	"strings"
	"testing"
	"time"
)

func testCommands(contexts *ContextStore) *Commands {
	return NewCommands("!", contexts, "http://127.0.0.1:80/api_message", 300*time.Second)
}

func TestCommands_Reset(t *testing.T) {
	contexts := NewContextStore()
	contexts.Set("discord:42", "ctx-1")
	c := testCommands(contexts)

	res := c.Intercept("!reset", "discord:42")
	if res == nil || res.Name != "reset" {
		t.Fatalf("expected reset to be handled, got %+v", res)
	}
	if contexts.Get("discord:42") != "" {
		t.Error("reset should clear the stored context")
	}
	if res.Reply == "" {
		t.Error("reset should confirm with a reply")
	}
}

func TestCommands_Status(t *testing.T) {
	contexts := NewContextStore()
	contexts.Set("discord:42", "ctx-1")
	c := testCommands(contexts)

	res := c.Intercept("!status", "discord:42")
	if res == nil || res.Name != "status" {
		t.Fatalf("expected status to be handled, got %+v", res)
	}
	if !strings.Contains(res.Reply, "ctx-1") {
		t.Errorf("status should show the context token, got %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "http://127.0.0.1:80/api_message") {
		t.Errorf("status should show the backend URL, got %q", res.Reply)
	}
}

func TestCommands_StatusWithoutContext(t *testing.T) {
	c := testCommands(NewContextStore())
	res := c.Intercept("!status", "discord:42")
	if res == nil || !strings.Contains(res.Reply, "(none)") {
		t.Errorf("expected absence marker, got %+v", res)
	}
}

func TestCommands_Help(t *testing.T) {
	c := testCommands(NewContextStore())
	res := c.Intercept("!help", "discord:42")
	if res == nil || res.Name != "help" {
		t.Fatalf("expected help to be handled, got %+v", res)
	}
	for _, cmd := range []string{"!reset", "!status", "!help"} {
		if !strings.Contains(res.Reply, cmd) {
			t.Errorf("help should list %s, got %q", cmd, res.Reply)
		}
	}
}

func TestCommands_CaseInsensitive(t *testing.T) {
	contexts := NewContextStore()
	contexts.Set("discord:42", "ctx-1")
	c := testCommands(contexts)

	if res := c.Intercept("  !ReSeT  ", "discord:42"); res == nil {
		t.Error("commands should match case-insensitively and ignore surrounding space")
	}
}

func TestCommands_PassThrough(t *testing.T) {
	c := testCommands(NewContextStore())
	for _, text := range []string{"hello", "!resetting", "reset", "!unknown", "tell me about !reset"} {
		if res := c.Intercept(text, "discord:42"); res != nil {
			t.Errorf("%q should pass through, got %+v", text, res)
		}
	}
}

func TestCommands_CustomPrefix(t *testing.T) {
	contexts := NewContextStore()
	c := NewCommands("$", contexts, "http://backend", time.Minute)

	if res := c.Intercept("$help", "discord:42"); res == nil {
		t.Error("custom prefix should be recognized")
	}
	if res := c.Intercept("!help", "discord:42"); res != nil {
		t.Error("default prefix should not match when a custom one is set")
	}
}
