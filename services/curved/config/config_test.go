package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "curved.yaml", "auth:\n  hmac_secret: "+secret+"\nshutdown_timeout: 3s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" || cfg.State.Backend != BackendMemory {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ShutdownTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	if cfg.RateLimit.RequestsPerMinute != 600 || cfg.RateLimit.Burst != 60 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
}

func TestLoadTOML(t *testing.T) {
	body := `listen = ":9000"
shutdown_timeout = "5s"

[state]
backend = "LevelDB"
path = "/tmp/curved"

[auth]
hmac_secret = "` + secret + `"
clock_skew = "1m"
`
	cfg, err := Load(writeFile(t, "curved.toml", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.State.Backend != BackendLevelDB || cfg.State.Path != "/tmp/curved" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Auth.ClockSkew.Duration != time.Minute || cfg.ShutdownTimeout.Duration != 5*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"short secret":   "auth:\n  hmac_secret: short\n",
		"missing path":   "state:\n  backend: bolt\nauth:\n  hmac_secret: " + secret + "\n",
		"bad backend":    "state:\n  backend: redis\nauth:\n  hmac_secret: " + secret + "\n",
		"bad duration":   "shutdown_timeout: soon\nauth:\n  hmac_secret: " + secret + "\n",
		"unknown field":  "listen_addr: ':1'\nauth:\n  hmac_secret: " + secret + "\n",
		"negative burst": "rate_limit:\n  burst: -1\nauth:\n  hmac_secret: " + secret + "\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, "curved.yaml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
