package noise

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

const KeyLen = 32

// KeyPair is an X25519 key pair. Arrays keep the private scalar out of
// shared slices so it can be wiped in place.
type KeyPair struct {
	Private [KeyLen]byte
	Public  [KeyLen]byte
}

// GenerateStaticKey draws a new X25519 key pair from r (crypto/rand when nil).
func GenerateStaticKey(r io.Reader) (KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var priv [KeyLen]byte
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("noise: generate key: %w", err)
	}
	kp, err := StaticKeyFromPrivate(priv)
	wipe(priv[:])
	return kp, err
}

// StaticKeyFromPrivate derives the public half of an X25519 private scalar.
func StaticKeyFromPrivate(priv [KeyLen]byte) (KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Destroy wipes the private scalar.
func (kp *KeyPair) Destroy() {
	wipe(kp.Private[:])
}

// GenerateAuthorityKey draws a new Ed25519 signing key for issuing
// certificates (crypto/rand when r is nil).
func GenerateAuthorityKey(r io.Reader) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, nil, fmt.Errorf("noise: generate authority key: %w", err)
	}
	return pub, priv, nil
}

func dh(priv [KeyLen]byte, pub []byte) ([KeyLen]byte, error) {
	var out [KeyLen]byte
	shared, err := curve25519.X25519(priv[:], pub)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	copy(out[:], shared)
	wipe(shared)
	return out, nil
}

func wipe(b []byte) {
	clear(b)
}
