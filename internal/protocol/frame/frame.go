package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/sv2wire/internal/protocol/wire"
)

const (
	HeaderLen        = 6
	MaxPayloadLen    = wire.MaxU24
	MaxExtensionType = 1<<15 - 1
	ChannelBitMask   = 0x8000
)

var (
	ErrIncompleteHeader     = errors.New("frame: incomplete header")
	ErrIncompletePayload    = errors.New("frame: incomplete payload")
	ErrPayloadTooLarge      = errors.New("frame: payload too large")
	ErrInvalidExtensionType = errors.New("frame: extension type exceeds 15 bits")
	ErrTrailingBytes        = errors.New("frame: payload has trailing bytes")
)

// Header is the fixed 6-byte wire header.
type Header struct {
	ExtensionType uint16
	Channel       bool
	MsgType       uint8
	PayloadLen    uint32
}

// Frame is one complete message. Payload may be a view into a caller
// buffer; frames are not mutated after construction.
type Frame struct {
	ExtensionType uint16
	Channel       bool
	MsgType       uint8
	Payload       []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadLen uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadLen: MaxPayloadLen}
}

func (l Limits) payloadMax() uint32 {
	if l.MaxPayloadLen == 0 || l.MaxPayloadLen > MaxPayloadLen {
		return MaxPayloadLen
	}
	return l.MaxPayloadLen
}

func New(ext uint16, channel bool, msgType uint8, payload []byte) (Frame, error) {
	if ext > MaxExtensionType {
		return Frame{}, fmt.Errorf("%w: 0x%04x", ErrInvalidExtensionType, ext)
	}
	if len(payload) > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return Frame{ExtensionType: ext, Channel: channel, MsgType: msgType, Payload: payload}, nil
}

// FromMessage encodes msg into a fresh payload and wraps it in a frame.
func FromMessage(ext uint16, channel bool, msgType uint8, msg wire.Encodable) (Frame, error) {
	n := msg.EncodedLen()
	if n > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	payload, err := wire.Marshal(msg)
	if err != nil {
		return Frame{}, err
	}
	return New(ext, channel, msgType, payload)
}

// Header returns the wire header describing f.
func (f Frame) Header() Header {
	return Header{
		ExtensionType: f.ExtensionType,
		Channel:       f.Channel,
		MsgType:       f.MsgType,
		PayloadLen:    uint32(len(f.Payload)),
	}
}

// WireLen is the total encoded size of f.
func (f Frame) WireLen() int {
	return HeaderLen + len(f.Payload)
}

func ToWire(f Frame) ([]byte, error) {
	return AppendWire(make([]byte, 0, f.WireLen()), f)
}

// AppendWire appends the header and the payload verbatim to dst.
func AppendWire(dst []byte, f Frame) ([]byte, error) {
	if f.ExtensionType > MaxExtensionType {
		return dst, fmt.Errorf("%w: 0x%04x", ErrInvalidExtensionType, f.ExtensionType)
	}
	if len(f.Payload) > MaxPayloadLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	hb := EncodeHeader(f.Header())
	dst = append(dst, hb[:]...)
	return append(dst, f.Payload...), nil
}

// EncodeHeader lays out h without bounds checks; fields above their widths
// are masked. Header.EncodeTo and AppendWire reject them instead.
func EncodeHeader(h Header) [HeaderLen]byte {
	var buf [HeaderLen]byte
	first := h.ExtensionType &^ ChannelBitMask
	if h.Channel {
		first |= ChannelBitMask
	}
	buf[0] = byte(first)
	buf[1] = byte(first >> 8)
	buf[2] = h.MsgType
	buf[3] = byte(h.PayloadLen)
	buf[4] = byte(h.PayloadLen >> 8)
	buf[5] = byte(h.PayloadLen >> 16)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: have %d of %d bytes", ErrIncompleteHeader, len(b), HeaderLen)
	}
	first := uint16(b[0]) | uint16(b[1])<<8
	return Header{
		ExtensionType: first &^ ChannelBitMask,
		Channel:       first&ChannelBitMask != 0,
		MsgType:       b[2],
		PayloadLen:    uint32(b[3]) | uint32(b[4])<<8 | uint32(b[5])<<16,
	}, nil
}

func (Header) EncodedLen() int { return HeaderLen }

func (h Header) EncodeTo(w *wire.Writer) error {
	if h.ExtensionType > MaxExtensionType {
		return fmt.Errorf("%w: 0x%04x", ErrInvalidExtensionType, h.ExtensionType)
	}
	if h.PayloadLen > MaxPayloadLen {
		return fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, h.PayloadLen)
	}
	hb := EncodeHeader(h)
	return w.PutBytes(hb[:])
}

func (Header) DecodeFrom(r *wire.Reader) (Header, error) {
	b, err := r.Bytes(HeaderLen)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrIncompleteHeader, err)
	}
	return DecodeHeader(b)
}

// CheckLimits reports ErrPayloadTooLarge when h declares more than limits allow.
func (h Header) CheckLimits(limits Limits) error {
	if limit := limits.payloadMax(); h.PayloadLen > limit {
		return fmt.Errorf("%w: declared %d, max %d", ErrPayloadTooLarge, h.PayloadLen, limit)
	}
	return nil
}

// FromWire parses one frame from the front of b and returns the unread rest.
// The payload aliases b.
func FromWire(b []byte, limits Limits) (Frame, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, b, err
	}
	if err := h.CheckLimits(limits); err != nil {
		return Frame{}, b, err
	}
	end := HeaderLen + int(h.PayloadLen)
	if len(b) < end {
		return Frame{}, b, fmt.Errorf("%w: need %d bytes, have %d", ErrIncompletePayload, h.PayloadLen, len(b)-HeaderLen)
	}
	f := Frame{
		ExtensionType: h.ExtensionType,
		Channel:       h.Channel,
		MsgType:       h.MsgType,
		Payload:       b[HeaderLen:end:end],
	}
	return f, b[end:], nil
}

// IsIncomplete reports whether err only means more input is needed.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncompleteHeader) || errors.Is(err, ErrIncompletePayload)
}

// DecodePayload decodes f's payload as T and requires it to be fully consumed.
func DecodePayload[T wire.Decodable[T]](f Frame) (T, error) {
	v, n, err := wire.Decode[T](f.Payload)
	if err != nil {
		return v, err
	}
	if n != len(f.Payload) {
		var zero T
		return zero, fmt.Errorf("%w: %d of %d bytes unread", ErrTrailingBytes, len(f.Payload)-n, len(f.Payload))
	}
	return v, nil
}
