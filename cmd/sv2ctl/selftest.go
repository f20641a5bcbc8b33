package main

import (
	"bytes"
	"flag"
	"fmt"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/buffer"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/transport"
	"github.com/pterm/pterm"
)

type selftestOptions struct {
	Frames        int
	PayloadLen    int
	MaxChunk      int
	RekeyMessages uint64
	PoolBudget    int
}

func defaultSelftestOptions() selftestOptions {
	return selftestOptions{
		Frames:        8,
		PayloadLen:    3*transport.DefaultMaxChunkPlaintext + 1,
		MaxChunk:      transport.DefaultMaxChunkPlaintext,
		RekeyMessages: 16,
		PoolBudget:    64 << 20,
	}
}

type selftestReport struct {
	HandshakeBytes  [2]int
	FramesSent      uint64
	FramesReceived  uint64
	WireBytes       int
	InitiatorRekeys uint64
	ResponderRekeys uint64
	Outstanding     int
	Elapsed         time.Duration
}

func runSelftest(args []string) error {
	opts := defaultSelftestOptions()
	fs := flag.NewFlagSet("selftest", flag.ContinueOnError)
	fs.IntVar(&opts.Frames, "frames", opts.Frames, "frames sent in each direction")
	fs.IntVar(&opts.PayloadLen, "payload", opts.PayloadLen, "payload length per frame")
	fs.IntVar(&opts.MaxChunk, "chunk", opts.MaxChunk, "max chunk plaintext")
	fs.Uint64Var(&opts.RekeyMessages, "rekey-messages", opts.RekeyMessages, "rekey after this many AEAD messages")
	fs.IntVar(&opts.PoolBudget, "pool-budget", opts.PoolBudget, "buffer pool byte budget (0 = unbounded)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := selftest(opts)
	if err != nil {
		return err
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"check", "value"},
		{"msg1 bytes", fmt.Sprint(report.HandshakeBytes[0])},
		{"msg2 bytes", fmt.Sprint(report.HandshakeBytes[1])},
		{"frames sent", fmt.Sprint(report.FramesSent)},
		{"frames received", fmt.Sprint(report.FramesReceived)},
		{"wire bytes", fmt.Sprint(report.WireBytes)},
		{"initiator rekeys", fmt.Sprint(report.InitiatorRekeys)},
		{"responder rekeys", fmt.Sprint(report.ResponderRekeys)},
		{"outstanding buffers", fmt.Sprint(report.Outstanding)},
		{"elapsed", report.Elapsed.Round(time.Microsecond).String()},
	}).Render(); err != nil {
		return err
	}
	pterm.Success.Println("selftest passed")
	return nil
}

// selftest runs a full handshake and exchange between two in-memory codecs
// sharing one buffer pool.
func selftest(opts selftestOptions) (selftestReport, error) {
	var report selftestReport
	start := time.Now()

	authPub, authPriv, err := noise.GenerateAuthorityKey(nil)
	if err != nil {
		return report, err
	}
	static, err := noise.GenerateStaticKey(nil)
	if err != nil {
		return report, err
	}
	cert, err := noise.SignCertificate(authPriv, static.Public, start.Add(-time.Minute), start.Add(time.Hour))
	if err != nil {
		return report, err
	}

	pool := buffer.NewPool(opts.PoolBudget)
	base := transport.Config{
		Mode:               transport.ModeNoise,
		MaxChunkPlaintext:  opts.MaxChunk,
		RekeyAfterMessages: opts.RekeyMessages,
		Buffers:            pool,
	}
	ic := base
	ic.Role = transport.RoleInitiator
	ic.AuthorityKey = authPub
	rc := base
	rc.Role = transport.RoleResponder
	rc.Static = static
	rc.Certificate = cert

	initiator, err := transport.New(ic)
	if err != nil {
		return report, fmt.Errorf("initiator: %w", err)
	}
	defer initiator.Close()
	responder, err := transport.New(rc)
	if err != nil {
		return report, fmt.Errorf("responder: %w", err)
	}
	defer responder.Close()

	if report.HandshakeBytes[0], err = transfer(initiator, responder); err != nil {
		return report, fmt.Errorf("msg1: %w", err)
	}
	if report.HandshakeBytes[1], err = transfer(responder, initiator); err != nil {
		return report, fmt.Errorf("msg2: %w", err)
	}
	if !initiator.Established() || !responder.Established() {
		return report, fmt.Errorf("handshake incomplete: initiator=%s responder=%s", initiator.Phase(), responder.Phase())
	}

	payload := make([]byte, opts.PayloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < opts.Frames; i++ {
		msgType := uint8(i)
		for _, leg := range [][2]*transport.Codec{{initiator, responder}, {responder, initiator}} {
			n, err := exchange(leg[0], leg[1], msgType, payload)
			if err != nil {
				return report, fmt.Errorf("frame %d: %w", i, err)
			}
			report.WireBytes += n
		}
	}

	is, rs := initiator.Stats(), responder.Stats()
	report.FramesSent = is.FramesSent + rs.FramesSent
	report.FramesReceived = is.FramesReceived + rs.FramesReceived
	report.InitiatorRekeys = is.SendRekeys + is.RecvRekeys
	report.ResponderRekeys = rs.SendRekeys + rs.RecvRekeys

	initiator.Close()
	responder.Close()
	report.Outstanding = pool.Outstanding()
	report.Elapsed = time.Since(start)
	return report, nil
}

func transfer(from *transport.Codec, to *transport.Codec) (int, error) {
	h := from.PopOutbound()
	if h == nil {
		return 0, nil
	}
	defer h.Release()
	n := h.Len()
	return n, to.PushInbound(h.Bytes())
}

func exchange(from *transport.Codec, to *transport.Codec, msgType uint8, payload []byte) (int, error) {
	f, err := frame.New(0, false, msgType, payload)
	if err != nil {
		return 0, err
	}
	if err := from.PushOutbound(f); err != nil {
		return 0, err
	}
	n, err := transfer(from, to)
	if err != nil {
		return n, err
	}
	in, ok, err := to.PopFrame()
	if err != nil {
		return n, err
	}
	if !ok {
		return n, fmt.Errorf("no frame decoded from %d wire bytes", n)
	}
	defer in.Release()
	if in.Frame.MsgType != msgType || !bytes.Equal(in.Frame.Payload, payload) {
		return n, fmt.Errorf("frame mismatch: msg_type=0x%02x len=%d", in.Frame.MsgType, len(in.Frame.Payload))
	}
	return n, nil
}
