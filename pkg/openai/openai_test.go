package openai

import "testing"

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if client := NewClient(Config{APIKey: "   "}); client != nil {
		t.Fatal("expected nil client for blank api key")
	}
	if client := NewClient(Config{APIKey: "sk-test", BaseURL: "http://localhost:4010/"}); client == nil {
		t.Fatal("expected client")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if err := (Config{APIKey: "k", MaxRetries: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative retries")
	}
	if err := (Config{APIKey: "k"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
