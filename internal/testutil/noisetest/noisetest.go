package noisetest

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/noise"
)

// Now is the fixed clock every fixture certificate is valid at.
var Now = time.Unix(1_700_000_000, 0)

func Clock() time.Time { return Now }

type Authority struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func NewAuthority(t testing.TB) *Authority {
	t.Helper()
	pub, priv, err := noise.GenerateAuthorityKey(nil)
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}
	return &Authority{Public: pub, Private: priv}
}

// Identity is a responder static key with its certificate.
type Identity struct {
	Static      noise.KeyPair
	Certificate noise.Certificate
}

// IssueResponder creates a static key certified for an hour either side of Now.
func (a *Authority) IssueResponder(t testing.TB) Identity {
	t.Helper()
	return a.IssueResponderWindow(t, Now.Add(-time.Hour), Now.Add(time.Hour))
}

func (a *Authority) IssueResponderWindow(t testing.TB, from time.Time, until time.Time) Identity {
	t.Helper()
	static, err := noise.GenerateStaticKey(nil)
	if err != nil {
		t.Fatalf("generate static key: %v", err)
	}
	cert, err := noise.SignCertificate(a.Private, static.Public, from, until)
	if err != nil {
		t.Fatalf("sign certificate: %v", err)
	}
	return Identity{Static: static, Certificate: cert}
}
