package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Seed.Templates) != 25 {
		t.Fatalf("expected 25 seed templates, got %d", len(cfg.Seed.Templates))
	}
	if cfg.Gesture.AdvanceDelay != 300*time.Millisecond {
		t.Fatalf("unexpected advance delay %s", cfg.Gesture.AdvanceDelay)
	}
	p := cfg.Gesture.Params()
	if p.Threshold != 100 || p.DeadZone != 20 || p.ExitOffset != 300 || p.MaxRotation != 30 {
		t.Fatalf("unexpected gesture params %+v", p)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("gesture:\n  threshold: 120\nseed:\n  templates:\n    - {city: Oslo, country: Norway, theme: nature, budget: luxury, duration: 3}\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Gesture.Threshold != 120 || cfg.Gesture.ExitOffset != 300 {
		t.Fatalf("unexpected gesture section %+v", cfg.Gesture)
	}
	if len(cfg.Seed.Templates) != 1 || cfg.Seed.Templates[0].City != "Oslo" {
		t.Fatalf("templates not replaced: %+v", cfg.Seed.Templates)
	}
	if cfg.Generator.Model != "gpt-3.5-turbo" {
		t.Fatalf("generator default lost: %q", cfg.Generator.Model)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad driver":        "store:\n  driver: mysql\n",
		"postgres no dsn":   "store:\n  driver: postgres\n",
		"threshold at exit": "gesture:\n  threshold: 300\n",
		"bad theme":         "seed:\n  templates:\n    - {city: X, country: Y, theme: space, budget: luxury, duration: 3}\n",
		"long duration":     "seed:\n  templates:\n    - {city: X, country: Y, theme: nature, budget: luxury, duration: 31}\n",
		"redis no channel":  "redis:\n  addr: localhost:6379\n  channel: \"\"\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected driver %q", cfg.Store.Driver)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load written default: %v", err)
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("SIDEQUEST_JWT_SECRET", "s3cret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := Default()
	if cfg.Server.JWTSecret() != "s3cret" || cfg.Generator.APIKey() != "sk-test" {
		t.Fatalf("secrets not read from env")
	}
}
