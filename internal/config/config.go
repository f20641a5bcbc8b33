package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/transport"
)

const DefaultCertificateValidity = 24 * time.Hour

var ErrInvalidKey = errors.New("config: invalid key")

// CodecFile is the resolved content of a codec TOML file.
type CodecFile struct {
	Mode                transport.Mode
	Role                transport.Role
	MaxChunkPlaintext   int
	RekeyAfterMessages  uint64
	RekeyAfterBytes     uint64
	MaxPayloadLen       uint32
	AuthorityPublicKey  ed25519.PublicKey
	AuthorityPrivateKey ed25519.PrivateKey
	StaticPrivateKey    *[noise.KeyLen]byte
	CertificateValidity time.Duration
}

type fileConfig struct {
	Mode                string `toml:"mode"`
	Role                string `toml:"role"`
	MaxChunkPlaintext   int    `toml:"max_chunk_plaintext"`
	RekeyAfterMessages  uint64 `toml:"rekey_after_messages"`
	RekeyAfterBytes     uint64 `toml:"rekey_after_bytes"`
	MaxPayloadLen       uint32 `toml:"max_payload_len"`
	AuthorityPublicKey  string `toml:"authority_public_key"`
	AuthorityPrivateKey string `toml:"authority_private_key"`
	StaticPrivateKey    string `toml:"static_private_key"`
	CertificateValidity string `toml:"certificate_validity"`
}

// DefaultCodecFile mirrors transport.DefaultConfig.
func DefaultCodecFile() CodecFile {
	d := transport.DefaultConfig()
	return CodecFile{
		Mode:                d.Mode,
		Role:                d.Role,
		MaxChunkPlaintext:   d.MaxChunkPlaintext,
		RekeyAfterMessages:  d.RekeyAfterMessages,
		RekeyAfterBytes:     d.RekeyAfterBytes,
		MaxPayloadLen:       d.Limits.MaxPayloadLen,
		CertificateValidity: DefaultCertificateValidity,
	}
}

func LoadCodecConfig(path string) (CodecFile, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return CodecFile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := resolve(meta, raw)
	if err != nil {
		return CodecFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// ParseCodecConfig resolves TOML held in memory.
func ParseCodecConfig(data string) (CodecFile, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return CodecFile{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(meta, raw)
}

func resolve(meta toml.MetaData, raw fileConfig) (CodecFile, error) {
	cfg := DefaultCodecFile()
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return CodecFile{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("mode") {
		cfg.Mode = transport.NormalizeMode(transport.Mode(raw.Mode))
	}
	if meta.IsDefined("role") {
		cfg.Role = transport.NormalizeRole(transport.Role(raw.Role))
	}
	if meta.IsDefined("max_chunk_plaintext") {
		cfg.MaxChunkPlaintext = raw.MaxChunkPlaintext
	}
	if meta.IsDefined("rekey_after_messages") {
		cfg.RekeyAfterMessages = raw.RekeyAfterMessages
	}
	if meta.IsDefined("rekey_after_bytes") {
		cfg.RekeyAfterBytes = raw.RekeyAfterBytes
	}
	if meta.IsDefined("max_payload_len") {
		cfg.MaxPayloadLen = raw.MaxPayloadLen
	}

	if definedValue(meta, "authority_public_key", raw.AuthorityPublicKey) {
		b, err := decodeHex("authority_public_key", raw.AuthorityPublicKey, ed25519.PublicKeySize)
		if err != nil {
			return CodecFile{}, err
		}
		cfg.AuthorityPublicKey = ed25519.PublicKey(b)
	}
	if definedValue(meta, "authority_private_key", raw.AuthorityPrivateKey) {
		b, err := decodeHex("authority_private_key", raw.AuthorityPrivateKey, ed25519.SeedSize)
		if err != nil {
			return CodecFile{}, err
		}
		cfg.AuthorityPrivateKey = ed25519.NewKeyFromSeed(b)
		if cfg.AuthorityPublicKey == nil {
			cfg.AuthorityPublicKey = cfg.AuthorityPrivateKey.Public().(ed25519.PublicKey)
		}
	}
	if definedValue(meta, "static_private_key", raw.StaticPrivateKey) {
		b, err := decodeHex("static_private_key", raw.StaticPrivateKey, noise.KeyLen)
		if err != nil {
			return CodecFile{}, err
		}
		var priv [noise.KeyLen]byte
		copy(priv[:], b)
		clear(b)
		cfg.StaticPrivateKey = &priv
	}
	if meta.IsDefined("certificate_validity") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CertificateValidity))
		if err != nil {
			return CodecFile{}, fmt.Errorf("parse certificate_validity: %w", err)
		}
		if d <= 0 {
			return CodecFile{}, fmt.Errorf("certificate_validity must be positive, got %s", d)
		}
		cfg.CertificateValidity = d
	}
	return cfg, nil
}

// definedValue treats an empty string the same as an absent key so the
// templates parse before their keys are filled in.
func definedValue(meta toml.MetaData, key string, raw string) bool {
	return meta.IsDefined(key) && strings.TrimSpace(raw) != ""
}

func decodeHex(key string, raw string, size int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, key, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrInvalidKey, key, len(b), size)
	}
	return b, nil
}

// TransportConfig builds a validated codec config. A responder holding the
// authority private key issues its own certificate valid from now.
func (f CodecFile) TransportConfig(now time.Time) (transport.Config, error) {
	cfg := transport.Config{
		Mode:               f.Mode,
		Role:               f.Role,
		MaxChunkPlaintext:  f.MaxChunkPlaintext,
		RekeyAfterMessages: f.RekeyAfterMessages,
		RekeyAfterBytes:    f.RekeyAfterBytes,
		Limits:             frame.Limits{MaxPayloadLen: f.MaxPayloadLen},
		AuthorityKey:       f.AuthorityPublicKey,
	}
	if cfg.Mode == transport.ModeNoise && cfg.Role == transport.RoleResponder {
		if f.StaticPrivateKey == nil {
			return transport.Config{}, transport.ErrStaticKeyRequired
		}
		static, err := noise.StaticKeyFromPrivate(*f.StaticPrivateKey)
		if err != nil {
			return transport.Config{}, err
		}
		if f.AuthorityPrivateKey == nil {
			return transport.Config{}, fmt.Errorf("%w: authority_private_key is needed to issue one", transport.ErrCertificateRequired)
		}
		cert, err := noise.SignCertificate(f.AuthorityPrivateKey, static.Public, now, now.Add(f.CertificateValidity))
		if err != nil {
			return transport.Config{}, err
		}
		cfg.Static = static
		cfg.Certificate = cert
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return transport.Config{}, err
	}
	return cfg, nil
}
