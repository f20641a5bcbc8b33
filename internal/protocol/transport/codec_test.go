package transport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/sv2wire/internal/protocol/buffer"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/schema"
	"github.com/danmuck/sv2wire/internal/testutil/noisetest"
	"github.com/danmuck/sv2wire/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func noisePair(t *testing.T, mutate func(initiator *Config, responder *Config)) (*Codec, *Codec) {
	t.Helper()
	authority := noisetest.NewAuthority(t)
	id := authority.IssueResponder(t)
	ic := Config{Mode: ModeNoise, Role: RoleInitiator, AuthorityKey: authority.Public, Now: noisetest.Clock}
	rc := Config{Mode: ModeNoise, Role: RoleResponder, Static: id.Static, Certificate: id.Certificate}
	if mutate != nil {
		mutate(&ic, &rc)
	}
	initiator, err := New(ic)
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	responder, err := New(rc)
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	return initiator, responder
}

func plainPair(t *testing.T) (*Codec, *Codec) {
	t.Helper()
	a, err := New(Config{Mode: ModePlain, Role: RoleInitiator})
	if err != nil {
		t.Fatalf("new plain initiator: %v", err)
	}
	b, err := New(Config{Mode: ModePlain, Role: RoleResponder})
	if err != nil {
		t.Fatalf("new plain responder: %v", err)
	}
	return a, b
}

// pump moves every pending outbound byte from one codec into the other.
func pump(t *testing.T, from *Codec, to *Codec) error {
	t.Helper()
	h := from.PopOutbound()
	if h == nil {
		return nil
	}
	defer h.Release()
	return to.PushInbound(h.Bytes())
}

func establish(t *testing.T, initiator *Codec, responder *Codec) {
	t.Helper()
	if err := pump(t, initiator, responder); err != nil {
		t.Fatalf("deliver msg1: %v", err)
	}
	if err := pump(t, responder, initiator); err != nil {
		t.Fatalf("deliver msg2: %v", err)
	}
	if !initiator.Established() || !responder.Established() {
		t.Fatalf("phases after handshake: initiator=%s responder=%s", initiator.Phase(), responder.Phase())
	}
}

func mustFrame(t *testing.T, ext uint16, channel bool, msgType uint8, payload []byte) frame.Frame {
	t.Helper()
	f, err := frame.New(ext, channel, msgType, payload)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	return f
}

func popOne(t *testing.T, c *Codec) Inbound {
	t.Helper()
	in, ok, err := c.PopFrame()
	if err != nil {
		t.Fatalf("pop frame: %v", err)
	}
	if !ok {
		t.Fatalf("expected a frame")
	}
	return in
}

func sendFrame(t *testing.T, from *Codec, to *Codec, f frame.Frame) Inbound {
	t.Helper()
	if err := from.PushOutbound(f); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	if err := pump(t, from, to); err != nil {
		t.Fatalf("push inbound: %v", err)
	}
	return popOne(t, to)
}

func TestHandshakeThroughCodecPair(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	if initiator.Phase() != PhaseHandshake || responder.Phase() != PhaseHandshake {
		t.Fatalf("unexpected initial phases: %s %s", initiator.Phase(), responder.Phase())
	}
	h := initiator.PopOutbound()
	if h == nil || h.Len() != frame.HeaderLen+noise.EphemeralMessageLen {
		t.Fatalf("initiator did not queue msg1 on construction")
	}
	hdr, err := frame.DecodeHeader(h.Bytes())
	if err != nil || !schema.IsHandshake(hdr) {
		t.Fatalf("msg1 not carried in the reserved frame: %+v %v", hdr, err)
	}
	if err := responder.PushInbound(h.Bytes()); err != nil {
		t.Fatalf("responder push: %v", err)
	}
	h.Release()
	if !responder.Established() {
		t.Fatalf("responder phase=%s", responder.Phase())
	}

	f := mustFrame(t, 0, false, 1, []byte("early"))
	if err := initiator.PushOutbound(f); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
	if initiator.Err() != nil {
		t.Fatalf("caller mistake failed the connection: %v", initiator.Err())
	}

	reply := responder.PopOutbound()
	if reply == nil || reply.Len() != frame.HeaderLen+noise.ResponseMessageLen {
		t.Fatalf("responder reply missing or wrong size")
	}
	if err := initiator.PushInbound(reply.Bytes()); err != nil {
		t.Fatalf("initiator push: %v", err)
	}
	reply.Release()
	if !initiator.Established() {
		t.Fatalf("initiator phase=%s", initiator.Phase())
	}
	if _, ok, _ := initiator.PopFrame(); ok {
		t.Fatalf("handshake frame surfaced to the application")
	}
}

func TestEncryptedRoundTripBothDirections(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)

	in := sendFrame(t, initiator, responder, mustFrame(t, 0, true, 0x1B, []byte("submit shares")))
	if in.Frame.ExtensionType != 0 || !in.Frame.Channel || in.Frame.MsgType != 0x1B || string(in.Frame.Payload) != "submit shares" {
		t.Fatalf("unexpected frame: %+v", in.Frame)
	}
	in.Release()

	in = sendFrame(t, responder, initiator, mustFrame(t, 0x0002, false, 0x70, []byte("template")))
	if in.Frame.ExtensionType != 2 || in.Frame.Channel || string(in.Frame.Payload) != "template" {
		t.Fatalf("unexpected frame: %+v", in.Frame)
	}
	in.Release()
}

func TestEmptyPayloadSendsHeaderOnly(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)
	if err := initiator.PushOutbound(mustFrame(t, 0, false, 5, nil)); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	h := initiator.PopOutbound()
	if h.Len() != HeaderCiphertextLen {
		t.Fatalf("empty frame wire len=%d want=%d", h.Len(), HeaderCiphertextLen)
	}
	if err := responder.PushInbound(h.Bytes()); err != nil {
		t.Fatalf("push inbound: %v", err)
	}
	h.Release()
	in := popOne(t, responder)
	if in.Frame.MsgType != 5 || len(in.Frame.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", in.Frame)
	}
	in.Release()
}

func TestChunkingSplitsAndReassembles(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)

	chunk := DefaultMaxChunkPlaintext
	payload := make([]byte, 3*chunk+1)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if err := initiator.PushOutbound(mustFrame(t, 0, false, 9, payload)); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	h := initiator.PopOutbound()
	want := HeaderCiphertextLen + len(payload) + 4*noise.TagLen
	if h.Len() != want || EncryptedLen(len(payload), chunk) != len(payload)+4*noise.TagLen {
		t.Fatalf("wire len=%d want=%d (4 chunks)", h.Len(), want)
	}
	if initiator.send.messages != 5 {
		t.Fatalf("sealed %d messages, want header + 4 chunks", initiator.send.messages)
	}
	if err := responder.PushInbound(h.Bytes()); err != nil {
		t.Fatalf("push inbound: %v", err)
	}
	h.Release()
	in := popOne(t, responder)
	if !bytes.Equal(in.Frame.Payload, payload) {
		t.Fatalf("reassembled payload differs")
	}
	in.Release()
}

func TestSmallChunkSizeRoundTrip(t *testing.T) {
	testlog.Start(t)
	small := func(ic *Config, rc *Config) {
		ic.MaxChunkPlaintext = 100
		rc.MaxChunkPlaintext = 100
	}
	initiator, responder := noisePair(t, small)
	establish(t, initiator, responder)
	for _, n := range []int{1, 99, 100, 101, 301} {
		payload := bytes.Repeat([]byte{byte(n)}, n)
		in := sendFrame(t, initiator, responder, mustFrame(t, 0, false, 1, payload))
		if !bytes.Equal(in.Frame.Payload, payload) {
			t.Fatalf("len=%d: payload mismatch", n)
		}
		in.Release()
	}
}

func TestPartialInputOneByteAtATime(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)

	feed := func(from *Codec, to *Codec) {
		h := from.PopOutbound()
		if h == nil {
			t.Fatalf("nothing to deliver")
		}
		defer h.Release()
		for _, b := range h.Bytes() {
			if err := to.PushInbound([]byte{b}); err != nil {
				t.Fatalf("push inbound: %v", err)
			}
		}
	}
	feed(initiator, responder)
	feed(responder, initiator)
	if !initiator.Established() || !responder.Established() {
		t.Fatalf("handshake incomplete after byte-wise feeding")
	}

	for _, msg := range []string{"a", "", "three frames"} {
		if err := initiator.PushOutbound(mustFrame(t, 0, false, 2, []byte(msg))); err != nil {
			t.Fatalf("push outbound: %v", err)
		}
	}
	feed(initiator, responder)
	for _, msg := range []string{"a", "", "three frames"} {
		in := popOne(t, responder)
		if string(in.Frame.Payload) != msg {
			t.Fatalf("payload=%q want=%q", in.Frame.Payload, msg)
		}
		in.Release()
	}
	if _, ok, err := responder.PopFrame(); ok || err != nil {
		t.Fatalf("unexpected extra frame ok=%v err=%v", ok, err)
	}
}

func TestTamperedCiphertextIsFatal(t *testing.T) {
	testlog.Start(t)
	for _, offset := range []int{0, HeaderCiphertextLen - 1, HeaderCiphertextLen, HeaderCiphertextLen + 20} {
		initiator, responder := noisePair(t, nil)
		establish(t, initiator, responder)
		if err := initiator.PushOutbound(mustFrame(t, 0, false, 3, bytes.Repeat([]byte("x"), 32))); err != nil {
			t.Fatalf("push outbound: %v", err)
		}
		h := initiator.PopOutbound()
		wire := append([]byte(nil), h.Bytes()...)
		h.Release()
		wire[offset] ^= 0x80

		err := responder.PushInbound(wire)
		if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, noise.ErrDecryptionFailed) || !IsKind(err, KindCrypto) {
			t.Fatalf("offset %d: expected fatal crypto error, got %v", offset, err)
		}
		if responder.Phase() != PhaseFailed {
			t.Fatalf("offset %d: phase=%s", offset, responder.Phase())
		}
		if _, _, err := responder.PopFrame(); !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("offset %d: pop after failure: %v", offset, err)
		}
		if err := responder.PushOutbound(mustFrame(t, 0, false, 1, nil)); !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("offset %d: push after failure: %v", offset, err)
		}
		if err := responder.PushInbound([]byte{1}); err != responder.Err() {
			t.Fatalf("offset %d: later calls must return the first error", offset)
		}
		if responder.keys != nil || responder.recv.cs != nil {
			t.Fatalf("offset %d: keys survived failure", offset)
		}
	}
}

func TestRekeyKeepsPeersInSync(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, func(ic *Config, rc *Config) {
		ic.RekeyAfterMessages = 3
		rc.RekeyAfterMessages = 3
		ic.RekeyAfterBytes = 200
		rc.RekeyAfterBytes = 200
	})
	establish(t, initiator, responder)
	for i := 0; i < 20; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, i*10)
		in := sendFrame(t, initiator, responder, mustFrame(t, 0, false, 1, payload))
		if !bytes.Equal(in.Frame.Payload, payload) {
			t.Fatalf("frame %d mismatch after rekey", i)
		}
		in.Release()
		in = sendFrame(t, responder, initiator, mustFrame(t, 0, false, 2, payload))
		in.Release()
	}
	is, rs := initiator.Stats(), responder.Stats()
	if is.SendRekeys == 0 || is.SendRekeys != rs.RecvRekeys || rs.SendRekeys != is.RecvRekeys {
		t.Fatalf("rekey counts disagree: initiator=%+v responder=%+v", is, rs)
	}
	if is.FramesSent != 20 || rs.FramesReceived != 20 {
		t.Fatalf("frame counts: %+v %+v", is, rs)
	}
}

func TestReservedTypeRejectedForApplications(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)
	f := mustFrame(t, schema.HandshakeExtensionType, false, schema.HandshakeMsgType, []byte{1})
	if err := initiator.PushOutbound(f); !errors.Is(err, ErrReservedType) {
		t.Fatalf("expected ErrReservedType, got %v", err)
	}
	if !initiator.Established() {
		t.Fatalf("reserved type rejection failed the connection")
	}
}

func TestPlainModeWritesFramesVerbatim(t *testing.T) {
	testlog.Start(t)
	a, b := plainPair(t)
	f := mustFrame(t, 0, false, 1, []byte{0, 1, 2})
	if err := a.PushOutbound(f); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	h := a.PopOutbound()
	want := []byte{0x00, 0x00, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x02}
	if !bytes.Equal(h.Bytes(), want) {
		t.Fatalf("wire=%x want=%x", h.Bytes(), want)
	}
	if err := b.PushInbound(h.Bytes()[:4]); err != nil {
		t.Fatalf("partial push: %v", err)
	}
	if _, ok, _ := b.PopFrame(); ok {
		t.Fatalf("frame emitted from partial input")
	}
	if err := b.PushInbound(h.Bytes()[4:]); err != nil {
		t.Fatalf("push rest: %v", err)
	}
	h.Release()
	in := popOne(t, b)
	if in.Frame.MsgType != 1 || !bytes.Equal(in.Frame.Payload, []byte{0, 1, 2}) {
		t.Fatalf("unexpected frame: %+v", in.Frame)
	}
	in.Release()
}

func TestHandshakeFrameAfterEstablishmentIsFatal(t *testing.T) {
	testlog.Start(t)
	_, b := plainPair(t)
	raw, _ := frame.ToWire(mustFrame(t, schema.HandshakeExtensionType, false, schema.HandshakeMsgType, nil))
	err := b.PushInbound(raw)
	if !errors.Is(err, ErrUnexpectedFrame) || !IsKind(err, KindProtocol) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestApplicationFrameDuringHandshakeIsFatal(t *testing.T) {
	testlog.Start(t)
	_, responder := noisePair(t, nil)
	raw, _ := frame.ToWire(mustFrame(t, 0, false, 1, []byte("too soon")))
	err := responder.PushInbound(raw)
	if !errors.Is(err, ErrUnexpectedFrame) || !IsKind(err, KindProtocol) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestWrongAuthorityFailsInitiator(t *testing.T) {
	testlog.Start(t)
	other := noisetest.NewAuthority(t)
	initiator, responder := noisePair(t, func(ic *Config, _ *Config) {
		ic.AuthorityKey = other.Public
	})
	if err := pump(t, initiator, responder); err != nil {
		t.Fatalf("deliver msg1: %v", err)
	}
	err := pump(t, responder, initiator)
	if !errors.Is(err, noise.ErrCertificateInvalid) || !IsKind(err, KindCrypto) {
		t.Fatalf("expected certificate failure, got %v", err)
	}
}

func TestDeclaredPayloadAboveLimitIsFatal(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, func(_ *Config, rc *Config) {
		rc.Limits = frame.Limits{MaxPayloadLen: 1024}
	})
	establish(t, initiator, responder)
	if err := initiator.PushOutbound(mustFrame(t, 0, false, 1, make([]byte, 2048))); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	err := pump(t, initiator, responder)
	if !errors.Is(err, frame.ErrPayloadTooLarge) || !IsKind(err, KindProtocol) {
		t.Fatalf("expected fatal payload-too-large, got %v", err)
	}
}

func TestPooledBuffersAndHeapFallback(t *testing.T) {
	testlog.Start(t)
	pool := buffer.NewPool(1)
	initiator, responder := noisePair(t, func(ic *Config, rc *Config) {
		ic.Buffers = pool
		rc.Buffers = pool
	})
	establish(t, initiator, responder)
	in := sendFrame(t, initiator, responder, mustFrame(t, 0, false, 1, []byte("still delivered")))
	if string(in.Frame.Payload) != "still delivered" {
		t.Fatalf("payload=%q", in.Frame.Payload)
	}
	in.Release()

	roomy := buffer.NewPool(0)
	a, b := noisePair(t, func(ic *Config, rc *Config) {
		ic.Buffers = roomy
		rc.Buffers = roomy
	})
	establish(t, a, b)
	in = sendFrame(t, a, b, mustFrame(t, 0, false, 1, []byte("pooled")))
	in.Release()
	a.Close()
	b.Close()
	if roomy.Outstanding() != 0 {
		t.Fatalf("buffers leaked: %d bytes outstanding", roomy.Outstanding())
	}
}

func TestPayloadUnavailableAfterRelease(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)
	in := sendFrame(t, initiator, responder, mustFrame(t, 0, false, 1, []byte("owned")))
	in.Release()
	if !in.buf.Released() || in.buf.Bytes() != nil {
		t.Fatalf("payload buffer still reachable after release")
	}
	in.Release()
}

func TestCatalogEnforcesChannelBit(t *testing.T) {
	testlog.Start(t)
	catalog := schema.NewCatalog()
	if err := catalog.Register(schema.Descriptor{Name: "mining.new_mining_job", MsgType: 0x15, Channel: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	a, err := New(Config{Mode: ModePlain, Role: RoleInitiator})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := New(Config{Mode: ModePlain, Role: RoleResponder, Catalog: catalog})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.PushOutbound(mustFrame(t, 0, false, 0x15, nil)); err == nil {
		t.Fatalf("catalog allowed a wrong channel bit outbound")
	}
	in := sendFrame(t, a, b, mustFrame(t, 0, true, 0x15, []byte{1}))
	in.Release()
	if err := a.PushOutbound(mustFrame(t, 0, false, 0x15, nil)); err != nil {
		t.Fatalf("push outbound: %v", err)
	}
	err = pump(t, a, b)
	var ve schema.ValidationError
	if !errors.As(err, &ve) || !IsKind(err, KindProtocol) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestCloseWipesAndRefuses(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)
	initiator.Close()
	if initiator.Phase() != PhaseClosed || initiator.keys != nil {
		t.Fatalf("close left state behind")
	}
	if err := initiator.PushInbound([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if initiator.PopOutbound() != nil {
		t.Fatalf("closed codec still has output")
	}
	initiator.Close()
}

func TestFallbackWarningIsSampled(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	logger := zerolog.New(&out)
	pool := buffer.NewPool(1)
	initiator, responder := noisePair(t, func(ic *Config, rc *Config) {
		ic.Buffers = pool
		rc.Buffers = pool
		rc.Logger = &logger
	})
	establish(t, initiator, responder)
	for i := 0; i < 10; i++ {
		in := sendFrame(t, initiator, responder, mustFrame(t, 0, false, 1, []byte("heap")))
		in.Release()
		in = sendFrame(t, responder, initiator, mustFrame(t, 0, false, 1, []byte("heap")))
		in.Release()
	}
	if got := strings.Count(out.String(), "using heap"); got != 1 {
		t.Fatalf("fallback warnings=%d want 1:\n%s", got, out.String())
	}
}

func TestCompactKeepsPartialFrame(t *testing.T) {
	testlog.Start(t)
	initiator, responder := noisePair(t, nil)
	establish(t, initiator, responder)
	for _, msg := range []string{"first", "second"} {
		if err := initiator.PushOutbound(mustFrame(t, 0, false, 3, []byte(msg))); err != nil {
			t.Fatalf("push outbound: %v", err)
		}
	}
	h := initiator.PopOutbound()
	defer h.Release()
	wireBytes := h.Bytes()
	split := HeaderCiphertextLen + EncryptedLen(len("first"), DefaultMaxChunkPlaintext) + 5

	if err := responder.PushInbound(wireBytes[:split]); err != nil {
		t.Fatalf("push first part: %v", err)
	}
	if responder.rx.Len() != 5 || responder.rxOff != 0 {
		t.Fatalf("after compact rx len=%d off=%d, want 5 and 0", responder.rx.Len(), responder.rxOff)
	}
	in := popOne(t, responder)
	if string(in.Frame.Payload) != "first" {
		t.Fatalf("payload=%q", in.Frame.Payload)
	}
	in.Release()

	if err := responder.PushInbound(wireBytes[split:]); err != nil {
		t.Fatalf("push rest: %v", err)
	}
	in = popOne(t, responder)
	if string(in.Frame.Payload) != "second" {
		t.Fatalf("payload=%q", in.Frame.Payload)
	}
	in.Release()
	if responder.rx != nil {
		t.Fatalf("drained inbound buffer still held")
	}
}

func TestMismatchedPeerSettingsFailDecryption(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		mutate func(ic *Config, rc *Config)
		frames int
	}{
		{"chunk size", func(ic *Config, rc *Config) { ic.MaxChunkPlaintext = 32 }, 1},
		{"rekey threshold", func(ic *Config, rc *Config) { ic.RekeyAfterMessages = 3 }, 3},
	}
	for _, tc := range cases {
		initiator, responder := noisePair(t, tc.mutate)
		establish(t, initiator, responder)
		var err error
		for i := 0; i < tc.frames && err == nil; i++ {
			if err = initiator.PushOutbound(mustFrame(t, 0, false, 1, bytes.Repeat([]byte{7}, 100))); err != nil {
				t.Fatalf("%s: push outbound: %v", tc.name, err)
			}
			err = pump(t, initiator, responder)
			if err == nil {
				if in, ok, _ := responder.PopFrame(); ok {
					in.Release()
				}
			}
		}
		if !errors.Is(err, noise.ErrDecryptionFailed) || !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("%s: expected fatal decryption failure, got %v", tc.name, err)
		}
	}
}
