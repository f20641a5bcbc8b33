package noise

import (
	"crypto/ed25519"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/wire"
)

const (
	CertificateVersion = 0
	CertificateLen     = 2 + 4 + 4 + ed25519.SignatureSize
)

// Certificate is the authority's signature over a responder static key,
// carried encrypted in the second handshake message.
type Certificate struct {
	Version       uint16
	ValidFrom     uint32
	NotValidAfter uint32
	Signature     wire.Signature
}

// SignCertificate issues a certificate binding static to the validity
// window [from, until] in whole seconds.
func SignCertificate(authority ed25519.PrivateKey, static [KeyLen]byte, from time.Time, until time.Time) (Certificate, error) {
	if len(authority) != ed25519.PrivateKeySize {
		return Certificate{}, fmt.Errorf("noise: authority private key is %d bytes", len(authority))
	}
	if until.Before(from) {
		return Certificate{}, fmt.Errorf("noise: certificate window ends before it starts")
	}
	for _, ts := range []time.Time{from, until} {
		if sec := ts.Unix(); sec < 0 || sec > math.MaxUint32 {
			return Certificate{}, fmt.Errorf("noise: certificate time %s does not fit in 32-bit unix seconds", ts.UTC().Format(time.RFC3339))
		}
	}
	c := Certificate{
		Version:       CertificateVersion,
		ValidFrom:     uint32(from.Unix()),
		NotValidAfter: uint32(until.Unix()),
	}
	copy(c.Signature[:], ed25519.Sign(authority, c.signedMessage(static)))
	return c, nil
}

// Verify checks the signature under authority and that now lies inside
// the validity window.
func (c Certificate) Verify(authority ed25519.PublicKey, static [KeyLen]byte, now time.Time) error {
	if len(authority) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: authority key is %d bytes", ErrCertificateInvalid, len(authority))
	}
	if !ed25519.Verify(authority, c.signedMessage(static), c.Signature[:]) {
		return fmt.Errorf("%w: bad signature", ErrCertificateInvalid)
	}
	ts := now.Unix()
	if ts < int64(c.ValidFrom) || ts > int64(c.NotValidAfter) {
		return fmt.Errorf("%w: %s outside [%d, %d]", ErrCertificateInvalid, now.UTC().Format(time.RFC3339), c.ValidFrom, c.NotValidAfter)
	}
	return nil
}

func (c Certificate) signedMessage(static [KeyLen]byte) []byte {
	msg := make([]byte, 0, 10+KeyLen)
	msg = append(msg, byte(c.Version), byte(c.Version>>8))
	msg = append(msg, byte(c.ValidFrom), byte(c.ValidFrom>>8), byte(c.ValidFrom>>16), byte(c.ValidFrom>>24))
	msg = append(msg, byte(c.NotValidAfter), byte(c.NotValidAfter>>8), byte(c.NotValidAfter>>16), byte(c.NotValidAfter>>24))
	return append(msg, static[:]...)
}

func (Certificate) EncodedLen() int { return CertificateLen }

func (c Certificate) EncodeTo(w *wire.Writer) error {
	return wire.EncodeAll(w, wire.U16(c.Version), wire.U32(c.ValidFrom), wire.U32(c.NotValidAfter), c.Signature)
}

func (Certificate) DecodeFrom(r *wire.Reader) (Certificate, error) {
	var c Certificate
	var err error
	if c.Version, err = r.U16(); err != nil {
		return Certificate{}, err
	}
	if c.ValidFrom, err = r.U32(); err != nil {
		return Certificate{}, err
	}
	if c.NotValidAfter, err = r.U32(); err != nil {
		return Certificate{}, err
	}
	if c.Signature, err = c.Signature.DecodeFrom(r); err != nil {
		return Certificate{}, err
	}
	return c, nil
}
