package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/sv2wire/internal/protocol/buffer"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/danmuck/sv2wire/internal/protocol/noise"
	"github.com/danmuck/sv2wire/internal/protocol/schema"
	"github.com/rs/zerolog"
)

// HeaderCiphertextLen is the sealed size of a frame header.
const HeaderCiphertextLen = frame.HeaderLen + noise.TagLen

const initialBufferLen = 4096

// fallbackLogPeriod bounds heap fallback warnings to one per period per codec.
const fallbackLogPeriod = time.Minute

type Phase uint8

const (
	PhaseHandshake Phase = iota
	PhaseEstablished
	PhaseFailed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhaseEstablished:
		return "established"
	case PhaseFailed:
		return "failed"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// EncryptedLen is the on-wire size of an n-byte payload split into chunks
// of at most maxChunk plaintext bytes.
func EncryptedLen(n int, maxChunk int) int {
	if n <= 0 {
		return 0
	}
	chunks := (n + maxChunk - 1) / maxChunk
	return n + chunks*noise.TagLen
}

// Inbound is a decoded frame. Its payload is valid until Release.
type Inbound struct {
	Frame frame.Frame
	buf   *buffer.Handle
}

func (in Inbound) Release() {
	in.buf.Release()
}

type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	SendRekeys     uint64
	RecvRekeys     uint64
}

type direction struct {
	name     string
	cs       *noise.CipherState
	messages uint64
	bytes    uint64
	rekeys   uint64
}

func (d *direction) count(messages int, bytes int) {
	d.messages += uint64(messages)
	d.bytes += uint64(bytes)
}

// fallback acquires from primary and drops to the heap when it fails. log
// is sampled so an exhausted pool does not warn on every acquire.
type fallback struct {
	primary buffer.Strategy
	log     zerolog.Logger
}

func (f fallback) Acquire(n int) (*buffer.Handle, error) {
	h, err := f.primary.Acquire(n)
	if err == nil {
		return h, nil
	}
	f.log.Warn().Err(err).Int("size", n).Msg("buffer acquire failed, using heap")
	return buffer.Heap{}.Acquire(n)
}

func (fallback) Release(h *buffer.Handle) {
	h.Release()
}

// Codec turns inbound bytes into frames and outbound frames into bytes for
// one connection. It is not safe for concurrent use.
type Codec struct {
	cfg     Config
	log     zerolog.Logger
	buffers buffer.Strategy
	phase   Phase
	err     error

	initiator *noise.Initiator
	responder *noise.Responder
	keys      *noise.TransportKeys
	send      direction
	recv      direction

	rx      *buffer.Handle
	rxOff   int
	pending *frame.Header
	ready   []Inbound
	out     *buffer.Handle

	framesSent     uint64
	framesReceived uint64
}

// New validates cfg and prepares a codec. An encrypted initiator queues
// its first handshake message immediately.
func New(cfg Config) (*Codec, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.logger().With().Str("role", string(cfg.Role)).Str("mode", string(cfg.Mode)).Logger()
	sampled := log.Sample(&zerolog.BurstSampler{Burst: 1, Period: fallbackLogPeriod})
	c := &Codec{cfg: cfg, log: log, buffers: fallback{primary: cfg.Buffers, log: sampled}}
	if cfg.Mode == ModePlain {
		c.phase = PhaseEstablished
		return c, nil
	}

	c.phase = PhaseHandshake
	hcfg := noise.Config{Rand: cfg.Rand, Now: cfg.Now}
	switch cfg.Role {
	case RoleInitiator:
		in, err := noise.NewInitiator(cfg.AuthorityKey, hcfg)
		if err != nil {
			return nil, err
		}
		c.initiator = in
		msg, err := in.WriteEphemeral()
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.queueHandshake(msg); err != nil {
			c.Close()
			return nil, err
		}
	case RoleResponder:
		c.responder = noise.NewResponder(cfg.Static, cfg.Certificate, hcfg)
		c.cfg.Static.Destroy()
	}
	return c, nil
}

func (c *Codec) Phase() Phase { return c.phase }

func (c *Codec) Established() bool { return c.phase == PhaseEstablished }

// Err is the terminal error once the codec failed.
func (c *Codec) Err() error { return c.err }

func (c *Codec) Stats() Stats {
	return Stats{
		FramesSent:     c.framesSent,
		FramesReceived: c.framesReceived,
		SendRekeys:     c.send.rekeys,
		RecvRekeys:     c.recv.rekeys,
	}
}

// PushInbound takes a copy of p and decodes every complete frame in the
// accumulated input. Incomplete input is kept for the next call.
func (c *Codec) PushInbound(p []byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if c.rx == nil {
		h, err := c.buffers.Acquire(max(len(p), initialBufferLen))
		if err != nil {
			return c.fail(wrapError(KindResource, "buffer inbound bytes", err))
		}
		c.rx = h
	}
	rx, err := buffer.Append(c.buffers, c.rx, p)
	if err != nil {
		return c.fail(wrapError(KindResource, "buffer inbound bytes", err))
	}
	c.rx = rx
	if err := c.process(); err != nil {
		return err
	}
	return c.compact()
}

// PopFrame returns the next decoded frame, or ok == false when more input
// is needed.
func (c *Codec) PopFrame() (Inbound, bool, error) {
	if err := c.usable(); err != nil {
		return Inbound{}, false, err
	}
	if len(c.ready) == 0 {
		return Inbound{}, false, nil
	}
	in := c.ready[0]
	c.ready[0] = Inbound{}
	c.ready = c.ready[1:]
	return in, true, nil
}

// PushOutbound encodes f, sealing it once the handshake is established.
// Caller mistakes (reserved type, bad bounds, not yet established) are
// returned without failing the connection.
func (c *Codec) PushOutbound(f frame.Frame) error {
	if err := c.usable(); err != nil {
		return err
	}
	h := f.Header()
	if schema.IsHandshake(h) {
		return fmt.Errorf("%w: ext=0x%04x msg_type=0x%02x", ErrReservedType, h.ExtensionType, h.MsgType)
	}
	if h.ExtensionType > frame.MaxExtensionType {
		return fmt.Errorf("%w: 0x%04x", frame.ErrInvalidExtensionType, h.ExtensionType)
	}
	if err := h.CheckLimits(c.cfg.Limits); err != nil {
		return err
	}
	if c.cfg.Catalog != nil {
		if _, err := c.cfg.Catalog.Validate(h); err != nil {
			return err
		}
	}
	if c.phase != PhaseEstablished {
		return ErrNotEstablished
	}
	if c.cfg.Mode == ModePlain {
		if err := c.appendPlain(f); err != nil {
			return c.fail(wrapError(KindResource, "buffer outbound frame", err))
		}
		c.framesSent++
		return nil
	}
	return c.seal(f)
}

// PopOutbound hands over all pending wire bytes, or nil when there are none.
func (c *Codec) PopOutbound() *buffer.Handle {
	if c.out == nil || c.out.Len() == 0 {
		return nil
	}
	h := c.out
	c.out = nil
	return h
}

// Close wipes key material and releases every buffer the codec holds.
func (c *Codec) Close() {
	if c.phase == PhaseClosed {
		return
	}
	c.teardown()
	c.phase = PhaseClosed
}

func (c *Codec) usable() error {
	switch c.phase {
	case PhaseFailed:
		return c.err
	case PhaseClosed:
		return ErrClosed
	}
	return nil
}

func (c *Codec) fail(e *Error) error {
	if c.err != nil {
		return c.err
	}
	c.err = fmt.Errorf("%w: %w", ErrConnectionFailed, e)
	c.phase = PhaseFailed
	c.log.Error().Str("kind", e.Kind.String()).Err(e).Msg("connection failed")
	c.teardown()
	return c.err
}

func (c *Codec) teardown() {
	if c.initiator != nil {
		c.initiator.Destroy()
		c.initiator = nil
	}
	if c.responder != nil {
		c.responder.Destroy()
		c.responder = nil
	}
	c.keys.Destroy()
	c.keys = nil
	c.send.cs = nil
	c.recv.cs = nil
	c.cfg.Static.Destroy()

	c.rx.Release()
	c.rx = nil
	c.rxOff = 0
	c.pending = nil
	for _, in := range c.ready {
		in.Release()
	}
	c.ready = nil
	c.out.Release()
	c.out = nil
}

func (c *Codec) available() []byte {
	if c.rx == nil {
		return nil
	}
	return c.rx.Bytes()[c.rxOff:]
}

// compact moves unread input to the front of rx, releasing it when empty.
func (c *Codec) compact() error {
	if c.rx == nil || c.rxOff == 0 {
		return nil
	}
	b := c.rx.Bytes()
	n := copy(b, b[c.rxOff:])
	c.rxOff = 0
	if n == 0 {
		c.rx.Release()
		c.rx = nil
		return nil
	}
	if err := c.rx.SetLen(n); err != nil {
		return c.fail(wrapError(KindResource, "compact inbound bytes", err))
	}
	return nil
}

func (c *Codec) process() error {
	for {
		var progressed bool
		var err error
		switch {
		case c.phase == PhaseHandshake:
			progressed, err = c.readHandshake()
		case c.phase == PhaseEstablished && c.cfg.Mode == ModePlain:
			progressed, err = c.readPlain()
		case c.phase == PhaseEstablished:
			progressed, err = c.readEncrypted()
		default:
			return c.usable()
		}
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (c *Codec) readHandshake() (bool, error) {
	avail := c.available()
	if len(avail) < frame.HeaderLen {
		return false, nil
	}
	h, err := frame.DecodeHeader(avail)
	if err != nil {
		return false, nil
	}
	if !schema.IsHandshake(h) || h.Channel {
		return false, c.fail(wrapError(KindProtocol,
			fmt.Sprintf("ext=0x%04x msg_type=0x%02x during handshake", h.ExtensionType, h.MsgType), ErrUnexpectedFrame))
	}
	if h.PayloadLen > noise.ResponseMessageLen {
		return false, c.fail(wrapError(KindProtocol,
			fmt.Sprintf("handshake message of %d bytes", h.PayloadLen), frame.ErrPayloadTooLarge))
	}
	f, _, err := frame.FromWire(avail, c.cfg.Limits)
	if frame.IsIncomplete(err) {
		return false, nil
	}
	if err != nil {
		return false, c.fail(wrapError(KindProtocol, "decode handshake frame", err))
	}
	c.rxOff += f.WireLen()
	return true, c.handleHandshake(f.Payload)
}

func (c *Codec) handleHandshake(msg []byte) error {
	var keys *noise.TransportKeys
	var err error
	switch {
	case c.responder != nil:
		var reply []byte
		if reply, err = c.responder.ReadEphemeral(msg); err != nil {
			return c.fail(handshakeError(err))
		}
		if err = c.queueHandshake(reply); err != nil {
			return c.fail(wrapError(KindResource, "buffer handshake reply", err))
		}
		if keys, err = c.responder.Finish(); err != nil {
			return c.fail(handshakeError(err))
		}
		c.responder = nil
	case c.initiator != nil:
		if keys, err = c.initiator.ReadResponse(msg); err != nil {
			return c.fail(handshakeError(err))
		}
		c.initiator = nil
	default:
		return c.fail(wrapError(KindProtocol, "handshake message without handshake state", ErrUnexpectedFrame))
	}
	c.keys = keys
	c.send = direction{name: "send", cs: keys.Send}
	c.recv = direction{name: "recv", cs: keys.Recv}
	c.phase = PhaseEstablished
	c.log.Debug().Msg("handshake complete")
	return nil
}

func handshakeError(err error) *Error {
	switch {
	case errors.Is(err, noise.ErrMalformedMessage), errors.Is(err, noise.ErrUnexpectedStep):
		return wrapError(KindProtocol, "handshake", err)
	default:
		return wrapError(KindCrypto, "handshake", err)
	}
}

func (c *Codec) queueHandshake(msg []byte) error {
	f, err := frame.New(schema.HandshakeExtensionType, false, schema.HandshakeMsgType, msg)
	if err != nil {
		return err
	}
	return c.appendPlain(f)
}

// checkInbound rejects the reserved pair after the handshake and, with a
// catalog, unknown types and wrong channel bits.
func (c *Codec) checkInbound(h frame.Header) error {
	if schema.IsHandshake(h) {
		return c.fail(wrapError(KindProtocol, "handshake frame after establishment", ErrUnexpectedFrame))
	}
	if c.cfg.Catalog != nil {
		if _, err := c.cfg.Catalog.Validate(h); err != nil {
			return c.fail(wrapError(KindProtocol, "inbound frame", err))
		}
	}
	return nil
}

func (c *Codec) readPlain() (bool, error) {
	f, _, err := frame.FromWire(c.available(), c.cfg.Limits)
	if frame.IsIncomplete(err) {
		return false, nil
	}
	if err != nil {
		return false, c.fail(wrapError(KindProtocol, "decode frame", err))
	}
	if err := c.checkInbound(f.Header()); err != nil {
		return false, err
	}
	var buf *buffer.Handle
	if len(f.Payload) > 0 {
		if buf, err = buffer.Append(c.buffers, nil, f.Payload); err != nil {
			return false, c.fail(wrapError(KindResource, "buffer inbound payload", err))
		}
		f.Payload = buf.Bytes()
	}
	c.rxOff += frame.HeaderLen + len(f.Payload)
	c.deliver(Inbound{Frame: f, buf: buf})
	return true, nil
}

func (c *Codec) readEncrypted() (bool, error) {
	avail := c.available()
	if c.pending == nil {
		if len(avail) < HeaderCiphertextLen {
			return false, nil
		}
		var hb [frame.HeaderLen]byte
		plain, err := c.recv.cs.Decrypt(hb[:0], avail[:HeaderCiphertextLen])
		if err != nil {
			return false, c.fail(wrapError(KindCrypto, "open header", err))
		}
		h, err := frame.DecodeHeader(plain)
		if err != nil {
			return false, c.fail(wrapError(KindProtocol, "decode header", err))
		}
		if err := h.CheckLimits(c.cfg.Limits); err != nil {
			return false, c.fail(wrapError(KindProtocol, "inbound header", err))
		}
		if err := c.checkInbound(h); err != nil {
			return false, err
		}
		c.recv.count(1, frame.HeaderLen)
		c.rxOff += HeaderCiphertextLen
		c.pending = &h
		return true, nil
	}

	h := *c.pending
	encLen := EncryptedLen(int(h.PayloadLen), c.cfg.MaxChunkPlaintext)
	if len(avail) < encLen {
		return false, nil
	}
	var buf *buffer.Handle
	var payload []byte
	if h.PayloadLen > 0 {
		var err error
		if buf, err = c.buffers.Acquire(int(h.PayloadLen)); err != nil {
			return false, c.fail(wrapError(KindResource, "buffer inbound payload", err))
		}
		dst := buf.Bytes()[:0]
		chunks := 0
		for off := 0; off < encLen; chunks++ {
			n := min(c.cfg.MaxChunkPlaintext+noise.TagLen, encLen-off)
			if dst, err = c.recv.cs.Decrypt(dst, avail[off:off+n]); err != nil {
				buf.Release()
				return false, c.fail(wrapError(KindCrypto, fmt.Sprintf("open payload chunk %d", chunks), err))
			}
			off += n
		}
		if err := buf.SetLen(len(dst)); err != nil {
			buf.Release()
			return false, c.fail(wrapError(KindResource, "reassemble payload", err))
		}
		payload = buf.Bytes()
		c.recv.count(chunks, len(payload))
	}
	c.rxOff += encLen
	c.pending = nil
	c.deliver(Inbound{
		Frame: frame.Frame{ExtensionType: h.ExtensionType, Channel: h.Channel, MsgType: h.MsgType, Payload: payload},
		buf:   buf,
	})
	if err := c.maybeRekey(&c.recv); err != nil {
		return false, c.fail(wrapError(KindCrypto, "rekey recv", err))
	}
	return true, nil
}

func (c *Codec) deliver(in Inbound) {
	c.ready = append(c.ready, in)
	c.framesReceived++
}

func (c *Codec) reserveOut(n int) error {
	if c.out == nil {
		h, err := c.buffers.Acquire(max(n, initialBufferLen))
		if err != nil {
			return err
		}
		c.out = h
		return nil
	}
	h, err := buffer.Reserve(c.buffers, c.out, n)
	c.out = h
	return err
}

func (c *Codec) appendPlain(f frame.Frame) error {
	if err := c.reserveOut(f.WireLen()); err != nil {
		return err
	}
	b, err := frame.AppendWire(c.out.Bytes(), f)
	if err != nil {
		return err
	}
	return c.out.SetLen(len(b))
}

// seal writes the sealed header followed by the payload chunks.
func (c *Codec) seal(f frame.Frame) error {
	encLen := EncryptedLen(len(f.Payload), c.cfg.MaxChunkPlaintext)
	if err := c.reserveOut(HeaderCiphertextLen + encLen); err != nil {
		return c.fail(wrapError(KindResource, "buffer outbound frame", err))
	}
	hb := frame.EncodeHeader(f.Header())
	dst, err := c.send.cs.Encrypt(c.out.Bytes(), hb[:])
	if err != nil {
		return c.fail(wrapError(KindCrypto, "seal header", err))
	}
	chunks := 0
	for off := 0; off < len(f.Payload); off += c.cfg.MaxChunkPlaintext {
		end := min(off+c.cfg.MaxChunkPlaintext, len(f.Payload))
		if dst, err = c.send.cs.Encrypt(dst, f.Payload[off:end]); err != nil {
			return c.fail(wrapError(KindCrypto, fmt.Sprintf("seal payload chunk %d", chunks), err))
		}
		chunks++
	}
	if err := c.out.SetLen(len(dst)); err != nil {
		return c.fail(wrapError(KindResource, "buffer outbound frame", err))
	}
	c.send.count(1+chunks, frame.HeaderLen+len(f.Payload))
	c.framesSent++
	if err := c.maybeRekey(&c.send); err != nil {
		return c.fail(wrapError(KindCrypto, "rekey send", err))
	}
	return nil
}

func (c *Codec) maybeRekey(d *direction) error {
	if d.messages < c.cfg.RekeyAfterMessages && d.bytes < c.cfg.RekeyAfterBytes {
		return nil
	}
	if err := d.cs.Rekey(); err != nil {
		return err
	}
	d.rekeys++
	c.log.Debug().
		Str("direction", d.name).
		Uint64("messages", d.messages).
		Uint64("bytes", d.bytes).
		Uint64("rekeys", d.rekeys).
		Msg("rekeyed")
	d.messages, d.bytes = 0, 0
	return nil
}
