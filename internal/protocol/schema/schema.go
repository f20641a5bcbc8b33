package schema

import (
	"fmt"
	"sync"

	"github.com/danmuck/sv2wire/internal/logging"
	"github.com/danmuck/sv2wire/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Reserved pair carrying handshake messages before the transport is keyed.
const (
	HandshakeExtensionType uint16 = 0x7FFF
	HandshakeMsgType       uint8  = 0xFF
	HandshakeName                 = "noise.handshake"
)

// Descriptor names one message type and fixes its channel bit.
type Descriptor struct {
	Name          string
	ExtensionType uint16
	MsgType       uint8
	Channel       bool
}

type key struct {
	ext uint16
	msg uint8
}

type ValidationError struct {
	ExtensionType uint16
	MsgType       uint8
	Reason        string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: extension_type=0x%04x msg_type=0x%02x: %s", e.ExtensionType, e.MsgType, e.Reason)
}

// Catalog is a set of known message types. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[key]Descriptor
	log     zerolog.Logger
}

// NewCatalog returns a catalog holding only the handshake descriptor.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[key]Descriptor), log: logging.Component("schema")}
	c.entries[key{HandshakeExtensionType, HandshakeMsgType}] = Handshake()
	return c
}

// Handshake is the reserved handshake descriptor.
func Handshake() Descriptor {
	return Descriptor{Name: HandshakeName, ExtensionType: HandshakeExtensionType, MsgType: HandshakeMsgType}
}

// IsHandshake reports whether h uses the reserved handshake pair.
func IsHandshake(h frame.Header) bool {
	return h.ExtensionType == HandshakeExtensionType && h.MsgType == HandshakeMsgType
}

// Register adds d. Re-registering a pair or the reserved pair fails.
func (c *Catalog) Register(d Descriptor) error {
	if d.ExtensionType > frame.MaxExtensionType {
		return ValidationError{ExtensionType: d.ExtensionType, MsgType: d.MsgType, Reason: "extension type exceeds 15 bits"}
	}
	k := key{d.ExtensionType, d.MsgType}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[k]; ok {
		return ValidationError{ExtensionType: d.ExtensionType, MsgType: d.MsgType, Reason: "already registered as " + prev.Name}
	}
	c.entries[k] = d
	return nil
}

func (c *Catalog) Lookup(ext uint16, msgType uint8) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key{ext, msgType}]
	return d, ok
}

// Validate checks that h names a known message with the right channel bit.
// Only rejections are logged.
func (c *Catalog) Validate(h frame.Header) (Descriptor, error) {
	d, ok := c.Lookup(h.ExtensionType, h.MsgType)
	if !ok {
		c.log.Error().Uint16("extension_type", h.ExtensionType).Uint8("msg_type", h.MsgType).Msg("unknown message type")
		return Descriptor{}, ValidationError{ExtensionType: h.ExtensionType, MsgType: h.MsgType, Reason: "unknown message type"}
	}
	if d.Channel != h.Channel {
		c.log.Error().
			Str("name", d.Name).
			Bool("got", h.Channel).
			Bool("want", d.Channel).
			Msg("channel bit mismatch")
		return Descriptor{}, ValidationError{ExtensionType: h.ExtensionType, MsgType: h.MsgType, Reason: "channel bit mismatch"}
	}
	return d, nil
}
