package noise

import "errors"

var (
	ErrUnexpectedStep     = errors.New("noise: unexpected handshake step")
	ErrMalformedMessage   = errors.New("noise: malformed handshake message")
	ErrCertificateInvalid = errors.New("noise: certificate invalid")
	ErrDecryptionFailed   = errors.New("noise: decryption failed")
	ErrNonceExhausted     = errors.New("noise: nonce exhausted")
	ErrInvalidPublicKey   = errors.New("noise: invalid public key")
	ErrNoKey              = errors.New("noise: cipher state has no key")
)
