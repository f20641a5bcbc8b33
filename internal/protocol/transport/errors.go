package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed = errors.New("transport: connection failed")
	ErrClosed           = errors.New("transport: codec closed")
	ErrReservedType     = errors.New("transport: reserved message type")
	ErrNotEstablished   = errors.New("transport: handshake not established")
	ErrUnexpectedFrame  = errors.New("transport: unexpected frame")
)

// ErrKind classifies fatal connection errors.
type ErrKind uint8

const (
	KindProtocol ErrKind = iota + 1
	KindCrypto
	KindResource
)

func (k ErrKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindResource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type Error struct {
	Kind  ErrKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return "transport: " + e.Kind.String() + ": " + e.Msg
	}
	return "transport: " + e.Kind.String() + ": " + e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

func wrapError(kind ErrKind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// IsKind reports whether err carries a transport Error of kind.
func IsKind(err error, kind ErrKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
