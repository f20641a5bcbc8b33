package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/transport"
	"github.com/danmuck/sv2wire/internal/testutil/noisetest"
)

func TestTemplatesParse(t *testing.T) {
	for _, kind := range []string{"initiator", "responder", "plain"} {
		tmpl, err := Template(kind)
		if err != nil {
			t.Fatalf("template %s: %v", kind, err)
		}
		cfg, err := ParseCodecConfig(tmpl)
		if err != nil {
			t.Fatalf("parse %s template: %v", kind, err)
		}
		if string(cfg.Role) == "" || string(cfg.Mode) == "" {
			t.Fatalf("%s template resolved to %+v", kind, cfg)
		}
		if cfg.Mode == transport.ModeNoise && !strings.Contains(tmpl, "must match on both peers") {
			t.Fatalf("%s template does not say chunk and rekey settings must match", kind)
		}
	}
	if _, err := Template("relay"); err == nil {
		t.Fatalf("unknown template kind accepted")
	}
}

func TestLoadAppliesOnlyDefinedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codec.toml")
	data := "role = \"Responder\"\nmax_chunk_plaintext = 1024\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadCodecConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Role != transport.RoleResponder || cfg.MaxChunkPlaintext != 1024 {
		t.Fatalf("defined keys not applied: %+v", cfg)
	}
	if cfg.Mode != transport.ModeNoise || cfg.RekeyAfterMessages != transport.DefaultRekeyAfterMessages {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.CertificateValidity != DefaultCertificateValidity {
		t.Fatalf("validity=%s", cfg.CertificateValidity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadCodecConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := ParseCodecConfig("mode = \"noise\"\nrekey_every = 5\n")
	if err == nil || !strings.Contains(err.Error(), "rekey_every") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestBadKeyMaterialRejected(t *testing.T) {
	if _, err := ParseCodecConfig("authority_public_key = \"zz\"\n"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := ParseCodecConfig("static_private_key = \"0011\"\n"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short key, got %v", err)
	}
	if _, err := ParseCodecConfig("certificate_validity = \"-1h\"\n"); err == nil {
		t.Fatalf("negative validity accepted")
	}
}

func TestResponderIssuesCertificateAtStartup(t *testing.T) {
	authority := noisetest.NewAuthority(t)
	static, err := noise.GenerateStaticKey(nil)
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	data := strings.Join([]string{
		`role = "responder"`,
		`static_private_key = "` + hex.EncodeToString(static.Private[:]) + `"`,
		`authority_private_key = "` + hex.EncodeToString(authority.Private.Seed()) + `"`,
		`certificate_validity = "1h"`,
	}, "\n")
	file, err := ParseCodecConfig(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ed25519.PublicKey(file.AuthorityPublicKey).Equal(authority.Public) {
		t.Fatalf("authority public key not derived from the seed")
	}
	cfg, err := file.TransportConfig(noisetest.Now)
	if err != nil {
		t.Fatalf("transport config: %v", err)
	}
	if cfg.Static.Public != static.Public {
		t.Fatalf("static public key mismatch")
	}
	if err := cfg.Certificate.Verify(authority.Public, static.Public, noisetest.Now.Add(30*time.Minute)); err != nil {
		t.Fatalf("issued certificate invalid: %v", err)
	}
	if err := cfg.Certificate.Verify(authority.Public, static.Public, noisetest.Now.Add(2*time.Hour)); err == nil {
		t.Fatalf("certificate outlived its validity")
	}
}

func TestTransportConfigRequiresKeys(t *testing.T) {
	file := DefaultCodecFile()
	if _, err := file.TransportConfig(noisetest.Now); !errors.Is(err, transport.ErrAuthorityKeyRequired) {
		t.Fatalf("expected ErrAuthorityKeyRequired, got %v", err)
	}
	file.Role = transport.RoleResponder
	if _, err := file.TransportConfig(noisetest.Now); !errors.Is(err, transport.ErrStaticKeyRequired) {
		t.Fatalf("expected ErrStaticKeyRequired, got %v", err)
	}
	file.Mode = transport.ModePlain
	if _, err := file.TransportConfig(noisetest.Now); err != nil {
		t.Fatalf("plain mode needs no keys: %v", err)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codec.toml")
	if err := WriteTemplate(path, "plain", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "plain", false); err == nil {
		t.Fatalf("overwrite without flag accepted")
	}
	if err := WriteTemplate(path, "initiator", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	cfg, err := LoadCodecConfig(path)
	if err != nil || cfg.Role != transport.RoleInitiator {
		t.Fatalf("load written template: %+v %v", cfg, err)
	}
}
