package cfg

import (
	"strings"
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:           "8080",
		Environment:    "development",
		DatabasePath:   "sealbin.db",
		RateLimit:      RateLimitCfg{RPM: 60, Burst: 10, ConservativeLimit: 5},
		RateLimitLRU:   10000,
		MaxPayloadSize: 512 * 1024,
		SweepInterval:  5 * time.Minute,
		Pepper:         NewSecret("0123456789abcdef0123456789abcdef"),
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "8080" {
		t.Errorf("default port = %s", c.Port)
	}
	if c.MaxPayloadSize != 512*1024 {
		t.Errorf("default max payload size = %d", c.MaxPayloadSize)
	}
	if c.SweepInterval != 5*time.Minute {
		t.Errorf("default sweep interval = %v", c.SweepInterval)
	}
	if len(c.DurationPresets) != 4 {
		t.Errorf("default presets = %v", c.DurationPresets)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_PAYLOAD_SIZE", "1024")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("DURATION_PRESETS", "10m,1h")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "9090" {
		t.Errorf("port = %s", c.Port)
	}
	if c.MaxPayloadSize != 1024 {
		t.Errorf("max payload size = %d", c.MaxPayloadSize)
	}
	if c.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval = %v", c.SweepInterval)
	}
	if len(c.DurationPresets) != 2 || c.DurationPresets[0] != 10*time.Minute {
		t.Errorf("presets = %v", c.DurationPresets)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Error("bad duration should fail Load")
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Errorf("valid cfg rejected: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Cfg)
		want   string
	}{
		{"empty port", func(c *Cfg) { c.Port = "" }, "PORT"},
		{"non-numeric port", func(c *Cfg) { c.Port = "abc" }, "PORT"},
		{"db path escape", func(c *Cfg) { c.DatabasePath = "/etc/passwd" }, "DATABASE_PATH"},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://x" }, "REDIS_URL"},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://x" }, "REDIS_TLS"},
		{"zero rpm", func(c *Cfg) { c.RateLimit.RPM = 0 }, "RATE_LIMIT_RPM"},
		{"zero payload size", func(c *Cfg) { c.MaxPayloadSize = 0 }, "MAX_PAYLOAD_SIZE"},
		{"oversized payload limit", func(c *Cfg) { c.MaxPayloadSize = 11 * 1024 * 1024 }, "MAX_PAYLOAD_SIZE"},
		{"sweep too fast", func(c *Cfg) { c.SweepInterval = time.Second }, "SWEEP_INTERVAL"},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }, "TRUSTED_PROXIES"},
		{"short pepper", func(c *Cfg) { c.Pepper = NewSecret("short") }, "TOKEN_PEPPER"},
		{"missing pepper", func(c *Cfg) { c.Pepper = NewSecret("") }, "TOKEN_PEPPER"},
	}
	for _, tc := range cases {
		c := validCfg()
		tc.mutate(c)
		err := Validate(c)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %s", tc.name, err, tc.want)
		}
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	c := validCfg()
	c.Environment = "production"
	c.RedisURL = "redis://localhost:6379"
	if err := Validate(c); err == nil {
		t.Error("production without metrics credentials should fail")
	}
	c.MetricsUser = "ops"
	c.MetricsPass = NewSecret("hunter2")
	c.RedisURL = ""
	if err := Validate(c); err == nil {
		t.Error("production without redis should fail")
	}
	c.RedisURL = "redis://localhost:6379"
	if err := Validate(c); err != nil {
		t.Errorf("complete production cfg rejected: %v", err)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := NewSecret("topsecret")
	if s.String() != "***REDACTED***" {
		t.Errorf("String() leaked: %s", s.String())
	}
	if s.Value() != "topsecret" {
		t.Errorf("Value() = %s", s.Value())
	}
	s.Wipe()
	if strings.Contains(s.Value(), "topsecret") {
		t.Error("Wipe left the secret intact")
	}
}
