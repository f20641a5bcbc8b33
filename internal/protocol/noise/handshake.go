package noise

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/wire"
)

const (
	// EphemeralMessageLen is the size of the first handshake message.
	EphemeralMessageLen = KeyLen
	// ResponseMessageLen is e ‖ enc(s) ‖ enc(certificate).
	ResponseMessageLen = KeyLen + (KeyLen + TagLen) + (CertificateLen + TagLen)
)

// State is the explicit handshake step.
type State uint8

const (
	StateStart State = iota
	StateSentE
	StateAwaitE
	StateSentEESES
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSentE:
		return "sent_e"
	case StateAwaitE:
		return "await_e"
	case StateSentEESES:
		return "sent_e_ee_s_es"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config injects the randomness and clock sources of a handshake.
type Config struct {
	Rand io.Reader
	Now  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type handshake struct {
	state State
	sym   symmetricState
	e     KeyPair
	cfg   Config
}

func (hs *handshake) init(state State, cfg Config) {
	hs.state = state
	hs.cfg = cfg.withDefaults()
	hs.sym.initialize()
}

func (hs *handshake) expect(want State) error {
	if hs.state != want {
		got := hs.state
		hs.fail()
		return fmt.Errorf("%w: in %s, want %s", ErrUnexpectedStep, got, want)
	}
	return nil
}

func (hs *handshake) generateEphemeral() error {
	e, err := GenerateStaticKey(hs.cfg.Rand)
	if err != nil {
		return err
	}
	hs.e = e
	return nil
}

func (hs *handshake) fail() {
	hs.state = StateFailed
	hs.destroy()
}

func (hs *handshake) destroy() {
	hs.e.Destroy()
	hs.sym.destroy()
}

// Initiator is the connecting side. It learns and authenticates the
// responder's static key through the authority certificate.
type Initiator struct {
	hs           handshake
	authority    ed25519.PublicKey
	remoteStatic [KeyLen]byte
	cert         Certificate
}

func NewInitiator(authority ed25519.PublicKey, cfg Config) (*Initiator, error) {
	if len(authority) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("noise: authority public key is %d bytes", len(authority))
	}
	in := &Initiator{authority: append(ed25519.PublicKey(nil), authority...)}
	in.hs.init(StateStart, cfg)
	return in, nil
}

func (in *Initiator) State() State { return in.hs.state }

// RemoteStatic is the responder's verified static key once established.
func (in *Initiator) RemoteStatic() [KeyLen]byte { return in.remoteStatic }

// Certificate is the responder's verified certificate once established.
func (in *Initiator) Certificate() Certificate { return in.cert }

// WriteEphemeral produces the first handshake message (token e).
func (in *Initiator) WriteEphemeral() ([]byte, error) {
	hs := &in.hs
	if err := hs.expect(StateStart); err != nil {
		return nil, err
	}
	if err := hs.generateEphemeral(); err != nil {
		hs.fail()
		return nil, err
	}
	hs.sym.mixHash(hs.e.Public[:])
	msg := append(make([]byte, 0, EphemeralMessageLen), hs.e.Public[:]...)
	msg, err := hs.sym.encryptAndHash(msg, nil)
	if err != nil {
		hs.fail()
		return nil, err
	}
	hs.state = StateSentE
	return msg, nil
}

// ReadResponse consumes the second handshake message (tokens e, ee, s, es
// and the certificate payload), verifies the certificate and returns the
// transport keys.
func (in *Initiator) ReadResponse(msg []byte) (*TransportKeys, error) {
	hs := &in.hs
	if err := hs.expect(StateSentE); err != nil {
		return nil, err
	}
	keys, err := in.readResponse(msg)
	if err != nil {
		hs.fail()
		return nil, err
	}
	hs.destroy()
	hs.state = StateEstablished
	return keys, nil
}

func (in *Initiator) readResponse(msg []byte) (*TransportKeys, error) {
	hs := &in.hs
	if len(msg) != ResponseMessageLen {
		return nil, fmt.Errorf("%w: response is %d bytes, want %d", ErrMalformedMessage, len(msg), ResponseMessageLen)
	}
	re := msg[:KeyLen]
	encStatic := msg[KeyLen : 2*KeyLen+TagLen]
	encCert := msg[2*KeyLen+TagLen:]

	hs.sym.mixHash(re)
	ee, err := dh(hs.e.Private, re)
	if err != nil {
		return nil, err
	}
	err = hs.sym.mixKey(ee[:])
	wipe(ee[:])
	if err != nil {
		return nil, err
	}

	rs, err := hs.sym.decryptAndHash(make([]byte, 0, KeyLen), encStatic)
	if err != nil {
		return nil, err
	}
	copy(in.remoteStatic[:], rs)

	es, err := dh(hs.e.Private, rs)
	if err != nil {
		return nil, err
	}
	err = hs.sym.mixKey(es[:])
	wipe(es[:])
	if err != nil {
		return nil, err
	}

	rawCert, err := hs.sym.decryptAndHash(make([]byte, 0, CertificateLen), encCert)
	if err != nil {
		return nil, err
	}
	cert, err := wire.DecodeExact[Certificate](rawCert)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificateInvalid, err)
	}
	if err := cert.Verify(in.authority, in.remoteStatic, hs.cfg.Now()); err != nil {
		return nil, err
	}
	in.cert = cert
	return hs.sym.split(true)
}

// Destroy wipes all handshake secrets. The initiator is unusable afterwards.
func (in *Initiator) Destroy() {
	if in.hs.state != StateEstablished {
		in.hs.state = StateFailed
	}
	in.hs.destroy()
}

// Responder is the accepting side. It proves its static key with a
// certificate issued by the authority.
type Responder struct {
	hs     handshake
	static KeyPair
	cert   Certificate
	keys   *TransportKeys
}

// NewResponder prepares a responder already waiting for the initiator's
// ephemeral key.
func NewResponder(static KeyPair, cert Certificate, cfg Config) *Responder {
	r := &Responder{static: static, cert: cert}
	r.hs.init(StateStart, cfg)
	r.hs.state = StateAwaitE
	return r
}

func (r *Responder) State() State { return r.hs.state }

// ReadEphemeral consumes the first handshake message and returns the
// second.
func (r *Responder) ReadEphemeral(msg []byte) ([]byte, error) {
	hs := &r.hs
	if err := hs.expect(StateAwaitE); err != nil {
		r.Destroy()
		return nil, err
	}
	out, err := r.readEphemeral(msg)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	hs.state = StateSentEESES
	return out, nil
}

func (r *Responder) readEphemeral(msg []byte) ([]byte, error) {
	hs := &r.hs
	if len(msg) != EphemeralMessageLen {
		return nil, fmt.Errorf("%w: ephemeral message is %d bytes, want %d", ErrMalformedMessage, len(msg), EphemeralMessageLen)
	}
	re := msg[:KeyLen]
	hs.sym.mixHash(re)
	if _, err := hs.sym.decryptAndHash(nil, msg[KeyLen:]); err != nil {
		return nil, err
	}

	if err := hs.generateEphemeral(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, ResponseMessageLen)
	out = append(out, hs.e.Public[:]...)
	hs.sym.mixHash(hs.e.Public[:])

	ee, err := dh(hs.e.Private, re)
	if err != nil {
		return nil, err
	}
	err = hs.sym.mixKey(ee[:])
	wipe(ee[:])
	if err != nil {
		return nil, err
	}

	if out, err = hs.sym.encryptAndHash(out, r.static.Public[:]); err != nil {
		return nil, err
	}

	es, err := dh(r.static.Private, re)
	if err != nil {
		return nil, err
	}
	err = hs.sym.mixKey(es[:])
	wipe(es[:])
	if err != nil {
		return nil, err
	}

	rawCert, err := wire.Marshal(r.cert)
	if err != nil {
		return nil, err
	}
	if out, err = hs.sym.encryptAndHash(out, rawCert); err != nil {
		return nil, err
	}

	keys, err := hs.sym.split(false)
	if err != nil {
		return nil, err
	}
	r.keys = keys
	return out, nil
}

// Finish completes the handshake after the second message was handed to
// the transport and returns the transport keys.
func (r *Responder) Finish() (*TransportKeys, error) {
	hs := &r.hs
	if err := hs.expect(StateSentEESES); err != nil {
		r.Destroy()
		return nil, err
	}
	keys := r.keys
	r.keys = nil
	hs.destroy()
	r.static.Destroy()
	hs.state = StateEstablished
	return keys, nil
}

// Destroy wipes all handshake secrets and any keys not yet handed out.
func (r *Responder) Destroy() {
	if r.hs.state != StateEstablished {
		r.hs.state = StateFailed
	}
	r.keys.Destroy()
	r.keys = nil
	r.hs.destroy()
	r.static.Destroy()
}
