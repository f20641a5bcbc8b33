package noise

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ProtocolName is exactly HashLen bytes, so it is used as the initial hash.
const ProtocolName = "Noise_NX_25519_ChaChaPoly_SHA256"

const HashLen = sha256.Size

type symmetricState struct {
	cipher CipherState
	ck     [HashLen]byte
	h      [HashLen]byte
}

func (s *symmetricState) initialize() {
	copy(s.h[:], ProtocolName)
	s.ck = s.h
	// Empty prologue.
	s.mixHash(nil)
}

func (s *symmetricState) mixHash(data []byte) {
	d := sha256.New()
	d.Write(s.h[:])
	d.Write(data)
	d.Sum(s.h[:0])
}

func (s *symmetricState) mixKey(ikm []byte) error {
	ck, temp, err := hkdf2(s.ck, ikm)
	if err != nil {
		return err
	}
	s.ck = ck
	err = s.cipher.setKey(temp)
	wipe(temp[:])
	return err
}

func (s *symmetricState) encryptAndHash(dst, plaintext []byte) ([]byte, error) {
	start := len(dst)
	if !s.cipher.HasKey() {
		dst = append(dst, plaintext...)
	} else {
		var err error
		if dst, err = s.cipher.encryptWithAD(dst, s.h[:], plaintext); err != nil {
			return dst, err
		}
	}
	s.mixHash(dst[start:])
	return dst, nil
}

func (s *symmetricState) decryptAndHash(dst, ciphertext []byte) ([]byte, error) {
	if !s.cipher.HasKey() {
		s.mixHash(ciphertext)
		return append(dst, ciphertext...), nil
	}
	out, err := s.cipher.decryptWithAD(dst, s.h[:], ciphertext)
	if err != nil {
		return dst, err
	}
	s.mixHash(ciphertext)
	return out, nil
}

// split derives the transport keys. The initiator sends with the first
// output; the responder sends with the second.
func (s *symmetricState) split(initiator bool) (*TransportKeys, error) {
	k1, k2, err := hkdf2(s.ck, nil)
	if err != nil {
		return nil, err
	}
	defer wipe(k1[:])
	defer wipe(k2[:])
	if !initiator {
		k1, k2 = k2, k1
	}
	send, err := NewCipherState(k1)
	if err != nil {
		return nil, err
	}
	recv, err := NewCipherState(k2)
	if err != nil {
		return nil, err
	}
	return &TransportKeys{Send: send, Recv: recv}, nil
}

func (s *symmetricState) destroy() {
	s.cipher.Destroy()
	wipe(s.ck[:])
	wipe(s.h[:])
}

// hkdf2 is Noise's HKDF with two outputs: HMAC-SHA256 extract keyed by the
// chaining key, then expand with empty info.
func hkdf2(ck [HashLen]byte, ikm []byte) ([HashLen]byte, [HashLen]byte, error) {
	var a, b [HashLen]byte
	r := hkdf.New(sha256.New, ikm, ck[:], nil)
	if _, err := io.ReadFull(r, a[:]); err != nil {
		return a, b, fmt.Errorf("noise: hkdf read: %w", err)
	}
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return a, b, fmt.Errorf("noise: hkdf read: %w", err)
	}
	return a, b, nil
}
