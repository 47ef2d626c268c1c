package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SEALER_BACKEND", "")
	t.Setenv("KEYGEN_TIMEOUT", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("want port 8080, got %s", cfg.Port)
	}
	if cfg.SealerBackend != SealerPassphrase {
		t.Errorf("want sealer passphrase, got %s", cfg.SealerBackend)
	}
	if cfg.KeyGenTimeout != 2*time.Minute {
		t.Errorf("want keygen timeout 2m, got %s", cfg.KeyGenTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("KEYGEN_WORKERS", "8")
	t.Setenv("DIRECTORY_LOOKUP_TIMEOUT", "750ms")

	cfg := Load()

	if !cfg.OtelEnabled {
		t.Error("want otel enabled")
	}
	if cfg.KeyGenWorkers != 8 {
		t.Errorf("want 8 workers, got %d", cfg.KeyGenWorkers)
	}
	if cfg.DirectoryLookupTimeout != 750*time.Millisecond {
		t.Errorf("want 750ms, got %s", cfg.DirectoryLookupTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"passphrase ok", func(c *Config) { c.MasterPassphrase = "secret" }, false},
		{"passphrase missing", func(c *Config) { c.MasterPassphrase = "" }, true},
		{"gcpkms missing key", func(c *Config) { c.SealerBackend = SealerGCPKMS }, true},
		{"transit ok", func(c *Config) {
			c.SealerBackend = SealerTransit
			c.TransitAddress = "http://127.0.0.1:8200"
			c.TransitKeyName = "mailcrypt"
		}, false},
		{"unknown sealer", func(c *Config) { c.SealerBackend = "hsm" }, true},
		{"rsa too small", func(c *Config) {
			c.MasterPassphrase = "secret"
			c.KeyRSABits = 2048
		}, true},
		{"unknown algorithm", func(c *Config) {
			c.MasterPassphrase = "secret"
			c.KeyAlgorithm = "dsa"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				SealerBackend: SealerPassphrase,
				KeyAlgorithm:  "rsa",
				KeyRSABits:    4096,
				KeyGenWorkers: 1,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogValue_RedactsSecrets(t *testing.T) {
	cfg := &Config{
		MasterPassphrase: "correct horse battery staple",
		TransitToken:     "hvs.token",
		SealerBackend:    SealerPassphrase,
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("config loaded", "config", cfg)

	out := buf.String()
	if strings.Contains(out, "correct horse") || strings.Contains(out, "hvs.token") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "passphrase") {
		t.Errorf("want sealer backend in log output, got %s", out)
	}
}
