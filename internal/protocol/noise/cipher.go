package noise

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	TagLen = chacha20poly1305.Overhead
	// MaxMessageLen is the largest Noise message, ciphertext and tag included.
	MaxMessageLen = 65535
)

// maxNonce is reserved for rekeying and never used to seal a message.
const maxNonce = math.MaxUint64

// CipherState is a one-way ChaCha20-Poly1305 key with its nonce counter.
type CipherState struct {
	key  [KeyLen]byte
	aead cipher.AEAD
	n    uint64
}

// NewCipherState keys a cipher state with its counter at zero.
func NewCipherState(key [KeyLen]byte) (*CipherState, error) {
	c := &CipherState{}
	if err := c.setKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CipherState) setKey(key [KeyLen]byte) error {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return fmt.Errorf("noise: init aead: %w", err)
	}
	c.key = key
	c.aead = aead
	c.n = 0
	return nil
}

// HasKey reports whether the state can seal and open messages.
func (c *CipherState) HasKey() bool {
	return c != nil && c.aead != nil
}

// Nonce returns the counter the next Encrypt or Decrypt will use.
func (c *CipherState) Nonce() uint64 {
	return c.n
}

// Encrypt appends the sealed plaintext and its tag to dst.
func (c *CipherState) Encrypt(dst, plaintext []byte) ([]byte, error) {
	return c.encryptWithAD(dst, nil, plaintext)
}

// Decrypt appends the opened ciphertext to dst. The counter only advances
// when the tag verifies.
func (c *CipherState) Decrypt(dst, ciphertext []byte) ([]byte, error) {
	return c.decryptWithAD(dst, nil, ciphertext)
}

func (c *CipherState) encryptWithAD(dst, ad, plaintext []byte) ([]byte, error) {
	if !c.HasKey() {
		return dst, ErrNoKey
	}
	if c.n == maxNonce {
		return dst, ErrNonceExhausted
	}
	var nonce [chacha20poly1305.NonceSize]byte
	putNonce(&nonce, c.n)
	out := c.aead.Seal(dst, nonce[:], plaintext, ad)
	c.n++
	return out, nil
}

func (c *CipherState) decryptWithAD(dst, ad, ciphertext []byte) ([]byte, error) {
	if !c.HasKey() {
		return dst, ErrNoKey
	}
	if c.n == maxNonce {
		return dst, ErrNonceExhausted
	}
	if len(ciphertext) < TagLen {
		return dst, fmt.Errorf("%w: %d byte message is shorter than the tag", ErrDecryptionFailed, len(ciphertext))
	}
	var nonce [chacha20poly1305.NonceSize]byte
	putNonce(&nonce, c.n)
	out, err := c.aead.Open(dst, nonce[:], ciphertext, ad)
	if err != nil {
		return dst, ErrDecryptionFailed
	}
	c.n++
	return out, nil
}

// Rekey replaces the key with the first 32 bytes of sealing 32 zero bytes
// under the reserved nonce, and restarts the counter at zero.
func (c *CipherState) Rekey() error {
	if !c.HasKey() {
		return ErrNoKey
	}
	var nonce [chacha20poly1305.NonceSize]byte
	putNonce(&nonce, maxNonce)
	var zeros [KeyLen]byte
	out := c.aead.Seal(nil, nonce[:], zeros[:], nil)
	var next [KeyLen]byte
	copy(next[:], out[:KeyLen])
	wipe(out)
	err := c.setKey(next)
	wipe(next[:])
	return err
}

// Destroy wipes the key. Later calls fail with ErrNoKey.
func (c *CipherState) Destroy() {
	if c == nil {
		return
	}
	wipe(c.key[:])
	c.aead = nil
	c.n = 0
}

func putNonce(nonce *[chacha20poly1305.NonceSize]byte, n uint64) {
	binary.LittleEndian.PutUint64(nonce[4:], n)
}

// TransportKeys are the two independent directions produced by Split.
type TransportKeys struct {
	Send *CipherState
	Recv *CipherState
}

func (k *TransportKeys) Destroy() {
	if k == nil {
		return
	}
	k.Send.Destroy()
	k.Recv.Destroy()
}
