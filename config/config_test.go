package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("CHAT_RETENTION_LIMIT", "")
	t.Setenv("CHAT_BASELINE_GROUP", "")
	t.Setenv("CHAT_RELAY_ENABLED", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Errorf("expected default dsn, got empty")
	}
	if cfg.RetentionLimit != 100 {
		t.Errorf("RetentionLimit = %d, want 100", cfg.RetentionLimit)
	}
	if cfg.BaselineGroup != "everyone" {
		t.Errorf("BaselineGroup = %q, want everyone", cfg.BaselineGroup)
	}
	if cfg.RelayEnabled {
		t.Errorf("expected relay disabled by default")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadRetentionLimit(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{name: "custom", value: "500", want: 500},
		{name: "minimum", value: "1", want: 1},
		{name: "zero rejected", value: "0", wantErr: true},
		{name: "negative rejected", value: "-5", wantErr: true},
		{name: "garbage rejected", value: "lots", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CHAT_RETENTION_LIMIT", tc.value)
			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for CHAT_RETENTION_LIMIT=%q", tc.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.RetentionLimit != tc.want {
				t.Errorf("RetentionLimit = %d, want %d", cfg.RetentionLimit, tc.want)
			}
		})
	}
}

func TestLoadRelayRequiresURL(t *testing.T) {
	t.Setenv("CHAT_RELAY_ENABLED", "1")
	t.Setenv("CHAT_RELAY_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when relay enabled without url")
	}

	t.Setenv("CHAT_RELAY_URL", "http://relay.internal/hook")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.RelayEnabled || cfg.RelayURL != "http://relay.internal/hook" {
		t.Errorf("relay config not loaded: enabled=%v url=%q", cfg.RelayEnabled, cfg.RelayURL)
	}
}
