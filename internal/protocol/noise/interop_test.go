package noise

import (
	"bytes"
	"testing"

	flynn "github.com/flynn/noise"

	"github.com/danmuck/sv2wire/internal/protocol/wire"
)

var nxSuite = flynn.NewCipherSuite(flynn.DH25519, flynn.CipherChaChaPoly, flynn.HashSHA256)

func TestResponderInteroperatesWithReferenceInitiator(t *testing.T) {
	f := newFixture(t)
	peer, err := flynn.NewHandshakeState(flynn.Config{CipherSuite: nxSuite, Pattern: flynn.HandshakeNX, Initiator: true})
	if err != nil {
		t.Fatalf("reference initiator: %v", err)
	}
	r := NewResponder(f.static, f.cert, Config{})

	msg1, _, _, err := peer.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("reference msg1: %v", err)
	}
	if len(msg1) != EphemeralMessageLen {
		t.Fatalf("reference msg1 is %d bytes", len(msg1))
	}
	msg2, err := r.ReadEphemeral(msg1)
	if err != nil {
		t.Fatalf("read ephemeral: %v", err)
	}
	payload, peerSend, peerRecv, err := peer.ReadMessage(nil, msg2)
	if err != nil {
		t.Fatalf("reference read msg2: %v", err)
	}
	if !bytes.Equal(peer.PeerStatic(), f.static.Public[:]) {
		t.Fatalf("reference learned a different static key")
	}
	cert, err := wire.DecodeExact[Certificate](payload)
	if err != nil {
		t.Fatalf("decode certificate payload: %v", err)
	}
	if err := cert.Verify(f.authorityPub, f.static.Public, testNow); err != nil {
		t.Fatalf("certificate from responder: %v", err)
	}

	keys, err := r.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	defer keys.Destroy()

	ct, err := keys.Send.Encrypt(nil, []byte("to initiator"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := peerRecv.Decrypt(nil, nil, ct)
	if err != nil || string(pt) != "to initiator" {
		t.Fatalf("reference decrypt: %q %v", pt, err)
	}
	ct, err = peerSend.Encrypt(nil, nil, []byte("to responder"))
	if err != nil {
		t.Fatalf("reference encrypt: %v", err)
	}
	pt, err = keys.Recv.Decrypt(nil, ct)
	if err != nil || string(pt) != "to responder" {
		t.Fatalf("decrypt: %q %v", pt, err)
	}
}

func TestInitiatorInteroperatesWithReferenceResponder(t *testing.T) {
	f := newFixture(t)
	peer, err := flynn.NewHandshakeState(flynn.Config{
		CipherSuite:   nxSuite,
		Pattern:       flynn.HandshakeNX,
		StaticKeypair: flynn.DHKey{Private: f.static.Private[:], Public: f.static.Public[:]},
	})
	if err != nil {
		t.Fatalf("reference responder: %v", err)
	}
	in, _ := f.pair(t)

	msg1, err := in.WriteEphemeral()
	if err != nil {
		t.Fatalf("write ephemeral: %v", err)
	}
	if _, _, _, err := peer.ReadMessage(nil, msg1); err != nil {
		t.Fatalf("reference read msg1: %v", err)
	}
	rawCert, err := wire.Marshal(f.cert)
	if err != nil {
		t.Fatalf("marshal certificate: %v", err)
	}
	msg2, peerRecv, peerSend, err := peer.WriteMessage(nil, rawCert)
	if err != nil {
		t.Fatalf("reference msg2: %v", err)
	}
	if len(msg2) != ResponseMessageLen {
		t.Fatalf("reference msg2 is %d bytes, want %d", len(msg2), ResponseMessageLen)
	}
	keys, err := in.ReadResponse(msg2)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer keys.Destroy()
	if in.RemoteStatic() != f.static.Public {
		t.Fatalf("initiator learned a different static key")
	}

	ct, err := keys.Send.Encrypt(nil, []byte("to responder"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := peerRecv.Decrypt(nil, nil, ct)
	if err != nil || string(pt) != "to responder" {
		t.Fatalf("reference decrypt: %q %v", pt, err)
	}
	ct, err = peerSend.Encrypt(nil, nil, []byte("to initiator"))
	if err != nil {
		t.Fatalf("reference encrypt: %v", err)
	}
	pt, err = keys.Recv.Decrypt(nil, ct)
	if err != nil || string(pt) != "to initiator" {
		t.Fatalf("decrypt: %q %v", pt, err)
	}
}
