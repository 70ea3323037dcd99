package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_abc")
	t.Setenv("STRIPE_PUBLISHABLE_KEY", "pk_test_abc")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != ModeTest {
		t.Errorf("Expected mode test, got %s", cfg.Mode)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.Currency != "jpy" {
		t.Errorf("Expected currency jpy, got %s", cfg.Currency)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("Expected poll interval 1s, got %s", cfg.PollInterval)
	}
	if cfg.Driver != "stripe" {
		t.Errorf("Expected stripe driver, got %s", cfg.Driver)
	}
}

func TestLoadPublicAliases(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_abc")
	t.Setenv("NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY", "pk_alias")
	t.Setenv("NEXT_PUBLIC_STRIPE_LOCATION_ID", "tml_alias")
	t.Setenv("NEXT_PUBLIC_STRIPE_MODE", "LIVE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PublishableKey != "pk_alias" || cfg.LocationID != "tml_alias" {
		t.Errorf("Aliases not applied: %+v", cfg)
	}
	if !cfg.Live() {
		t.Error("Expected live mode")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"STRIPE_PUBLISHABLE_KEY": "pk"}},
		{"missing publishable", map[string]string{"STRIPE_SECRET_KEY": "sk"}},
		{"bad mode", map[string]string{"STRIPE_SECRET_KEY": "sk", "STRIPE_PUBLISHABLE_KEY": "pk", "STRIPE_MODE": "prod"}},
		{"bad port", map[string]string{"STRIPE_SECRET_KEY": "sk", "STRIPE_PUBLISHABLE_KEY": "pk", "POS_SERVICE_PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"STRIPE_SECRET_KEY", "STRIPE_PUBLISHABLE_KEY", "NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	setRequired(t)
	t.Setenv("POS_CURRENCY", "usd")

	path := filepath.Join(t.TempDir(), "terminal.yaml")
	content := `
driver: simulator
port: 9090
currency: jpy
driver_config:
  tap_delay: 200ms
  readers: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Driver != "simulator" || cfg.Port != 9090 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.Currency != "usd" {
		t.Errorf("Expected environment to win with usd, got %s", cfg.Currency)
	}

	raw, err := cfg.DriverSettings()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["tap_delay"] != "200ms" || decoded["secret_key"] != "sk_test_abc" {
		t.Errorf("Unexpected driver settings: %v", decoded)
	}
}

func TestSecretKeyNotSerialized(t *testing.T) {
	cfg := Config{SecretKey: "sk_live_secret", PublishableKey: "pk"}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk_live_secret") {
		t.Errorf("Secret key leaked: %s", data)
	}
}
