package unifiedllm

import (
	"strings"
	"testing"
)

func TestLookupProvider(t *testing.T) {
	info, err := LookupProvider("openrouter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.EnvVar != "OPENROUTER_API_KEY" {
		t.Errorf("expected env var %q, got %q", "OPENROUTER_API_KEY", info.EnvVar)
	}
	if info.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("unexpected base url %q", info.BaseURL)
	}

	_, err = LookupProvider("nope")
	if err == nil || err.Error() != "Unknown provider: nope" {
		t.Errorf("expected unknown provider error, got %v", err)
	}
	if Classify(err) != ClassFatal {
		t.Errorf("expected configuration errors to be fatal")
	}
}

func TestResolveProvider(t *testing.T) {
	env := map[string]string{"GROQ_API_KEY": "gk"}
	getenv := func(k string) string { return env[k] }

	info, key, err := ResolveProvider("groq", getenv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "gk" || info.Name != "groq" {
		t.Errorf("unexpected resolution %+v %q", info, key)
	}

	_, _, err = ResolveProvider("xai", getenv)
	if err == nil || !strings.Contains(err.Error(), "Missing API key for provider: xai") {
		t.Errorf("expected missing key error, got %v", err)
	}
}

func TestProvidersIsACopy(t *testing.T) {
	p := Providers()
	if len(p) != 11 {
		t.Errorf("expected 11 providers, got %d", len(p))
	}
	p[0].Name = "changed"
	if Providers()[0].Name == "changed" {
		t.Error("Providers must return a copy")
	}
}
