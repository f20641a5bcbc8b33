package transport

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/sv2wire/internal/logging"
	"github.com/danmuck/sv2wire/internal/protocol/buffer"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/schema"
	"github.com/rs/zerolog"
)

// Mode selects whether frames travel in the clear or behind Noise.
type Mode string

const (
	ModePlain Mode = "plain"
	ModeNoise Mode = "noise"
)

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

const (
	// DefaultMaxChunkPlaintext is the largest Noise message minus its tag.
	DefaultMaxChunkPlaintext  = noise.MaxMessageLen - noise.TagLen
	DefaultRekeyAfterMessages = 1 << 24
	DefaultRekeyAfterBytes    = 1 << 36

	// MaxRekeyThreshold keeps every rekey point far below the nonce ceiling.
	MaxRekeyThreshold = 1 << 60
)

var (
	ErrInvalidMode           = errors.New("transport: invalid mode")
	ErrInvalidRole           = errors.New("transport: invalid role")
	ErrInvalidChunkSize      = errors.New("transport: invalid max chunk plaintext")
	ErrInvalidRekeyThreshold = errors.New("transport: invalid rekey threshold")
	ErrAuthorityKeyRequired  = errors.New("transport: authority public key required")
	ErrStaticKeyRequired     = errors.New("transport: static key required")
	ErrCertificateRequired   = errors.New("transport: certificate required")
)

// Config defines one connection's codec.
type Config struct {
	Mode Mode
	Role Role

	// MaxChunkPlaintext and the rekey thresholds are not negotiated. Both
	// peers must use the same values or every frame after the first
	// disagreement fails with noise.ErrDecryptionFailed.
	MaxChunkPlaintext  int
	RekeyAfterMessages uint64
	RekeyAfterBytes    uint64
	Limits             frame.Limits

	// Initiator: authority key that signs responder certificates.
	AuthorityKey ed25519.PublicKey
	// Responder: static key and the certificate proving it.
	Static      noise.KeyPair
	Certificate noise.Certificate

	Now  func() time.Time
	Rand io.Reader

	Buffers buffer.Strategy
	// Catalog, when set, enforces known message types and channel bits.
	Catalog *schema.Catalog
	Logger  *zerolog.Logger
}

// DefaultConfig returns an encrypted initiator with documented defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeNoise,
		Role:               RoleInitiator,
		MaxChunkPlaintext:  DefaultMaxChunkPlaintext,
		RekeyAfterMessages: DefaultRekeyAfterMessages,
		RekeyAfterBytes:    DefaultRekeyAfterBytes,
		Limits:             frame.DefaultLimits(),
	}
}

func NormalizeMode(mode Mode) Mode {
	if strings.TrimSpace(string(mode)) == "" {
		return ModeNoise
	}
	return Mode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func NormalizeRole(role Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(role))))
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Mode = NormalizeMode(c.Mode)
	c.Role = NormalizeRole(c.Role)
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.MaxChunkPlaintext == 0 {
		c.MaxChunkPlaintext = d.MaxChunkPlaintext
	}
	if c.RekeyAfterMessages == 0 {
		c.RekeyAfterMessages = d.RekeyAfterMessages
	}
	if c.RekeyAfterBytes == 0 {
		c.RekeyAfterBytes = d.RekeyAfterBytes
	}
	if c.Limits.MaxPayloadLen == 0 {
		c.Limits = d.Limits
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Buffers == nil {
		c.Buffers = buffer.Heap{}
	}
	return c
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModePlain, ModeNoise:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	switch c.Role {
	case RoleInitiator, RoleResponder:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if c.MaxChunkPlaintext <= 0 || c.MaxChunkPlaintext > DefaultMaxChunkPlaintext {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidChunkSize, c.MaxChunkPlaintext, DefaultMaxChunkPlaintext)
	}
	if c.RekeyAfterMessages == 0 || c.RekeyAfterMessages > MaxRekeyThreshold {
		return fmt.Errorf("%w: messages=%d", ErrInvalidRekeyThreshold, c.RekeyAfterMessages)
	}
	if c.RekeyAfterBytes == 0 || c.RekeyAfterBytes > MaxRekeyThreshold {
		return fmt.Errorf("%w: bytes=%d", ErrInvalidRekeyThreshold, c.RekeyAfterBytes)
	}
	if c.Mode == ModePlain {
		return nil
	}
	if c.Role == RoleInitiator {
		return c.validateInitiator()
	}
	return c.validateResponder()
}

func (c Config) validateInitiator() error {
	if len(c.AuthorityKey) != ed25519.PublicKeySize {
		return ErrAuthorityKeyRequired
	}
	return nil
}

func (c Config) validateResponder() error {
	if c.Static.Public == ([noise.KeyLen]byte{}) {
		return ErrStaticKeyRequired
	}
	derived, err := noise.StaticKeyFromPrivate(c.Static.Private)
	derived.Destroy()
	if err != nil || derived.Public != c.Static.Public {
		return fmt.Errorf("%w: public key does not match private key", ErrStaticKeyRequired)
	}
	if c.Certificate.Signature == ([ed25519.SignatureSize]byte{}) {
		return ErrCertificateRequired
	}
	return nil
}

func (c Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return logging.Component("transport")
}
