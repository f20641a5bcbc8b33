package transport

import (
	"errors"
	"testing"

	"github.com/danmuck/sv2wire/internal/testutil/noisetest"
)

func TestDefaultsAreValidForAnInitiator(t *testing.T) {
	authority := noisetest.NewAuthority(t)
	cfg := Config{AuthorityKey: authority.Public}.WithDefaults()
	if cfg.Mode != ModeNoise || cfg.Role != RoleInitiator {
		t.Fatalf("unexpected defaults: mode=%s role=%s", cfg.Mode, cfg.Role)
	}
	if cfg.MaxChunkPlaintext != 65519 {
		t.Fatalf("max chunk=%d", cfg.MaxChunkPlaintext)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	authority := noisetest.NewAuthority(t)
	id := authority.IssueResponder(t)
	base := Config{AuthorityKey: authority.Public}.WithDefaults()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"mode", func(c *Config) { c.Mode = "tls" }, ErrInvalidMode},
		{"role", func(c *Config) { c.Role = "observer" }, ErrInvalidRole},
		{"chunk too large", func(c *Config) { c.MaxChunkPlaintext = 65520 }, ErrInvalidChunkSize},
		{"chunk negative", func(c *Config) { c.MaxChunkPlaintext = -1 }, ErrInvalidChunkSize},
		{"rekey messages", func(c *Config) { c.RekeyAfterMessages = MaxRekeyThreshold + 1 }, ErrInvalidRekeyThreshold},
		{"authority", func(c *Config) { c.AuthorityKey = nil }, ErrAuthorityKeyRequired},
		{"responder static", func(c *Config) { c.Role = RoleResponder }, ErrStaticKeyRequired},
		{"responder cert", func(c *Config) {
			c.Role = RoleResponder
			c.Static = id.Static
		}, ErrCertificateRequired},
		{"mismatched static", func(c *Config) {
			c.Role = RoleResponder
			c.Static = id.Static
			c.Static.Public[0] ^= 1
			c.Certificate = id.Certificate
		}, ErrStaticKeyRequired},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestPlainModeNeedsNoKeys(t *testing.T) {
	cfg := Config{Mode: " Plain ", Role: RoleResponder}.WithDefaults()
	if cfg.Mode != ModePlain {
		t.Fatalf("mode not normalized: %q", cfg.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
