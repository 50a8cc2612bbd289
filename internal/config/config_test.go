package config

import "testing"

func TestLoadRequiresToken(t *testing.T) {
	_, err := Load(func(string) string { return "" }, nil)
	if err == nil {
		t.Fatal("expected error when token is missing")
	}
}

func TestLoadParsesAllowedUsers(t *testing.T) {
	env := []string{
		"CCBOT_BOT_TOKEN=abc123",
		"CCBOT_ALLOWED_USERS=1, 2,3",
	}
	cfg, err := Load(func(string) string { return "" }, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []int64{1, 2, 3} {
		if !cfg.AllowedUsers[id] {
			t.Fatalf("expected user %d to be allowed", id)
		}
	}
	if cfg.AllowedUsers[4] {
		t.Fatal("user 4 should not be allowed")
	}
}

func TestLoadDefaultsPollInterval(t *testing.T) {
	env := []string{"CCBOT_BOT_TOKEN=abc123", "CCBOT_ALLOWED_USERS=1"}
	cfg, err := Load(func(string) string { return "" }, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval.Seconds() != 2 {
		t.Fatalf("expected default poll interval of 2s, got %v", cfg.PollInterval)
	}
	if cfg.MuxSessionName != "ccbot" {
		t.Fatalf("expected default mux session name ccbot, got %q", cfg.MuxSessionName)
	}
}

func TestLoadRejectsBadAllowedUser(t *testing.T) {
	env := []string{"CCBOT_BOT_TOKEN=abc123", "CCBOT_ALLOWED_USERS=not-a-number"}
	if _, err := Load(func(string) string { return "" }, env); err == nil {
		t.Fatal("expected error for malformed allowed user id")
	}
}
