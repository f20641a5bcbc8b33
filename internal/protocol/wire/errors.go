package wire

import "errors"

var (
	ErrBufferTooSmall = errors.New("wire: buffer too small")
	ErrTruncatedInput = errors.New("wire: truncated input")
	ErrInvalidLength  = errors.New("wire: invalid length")
	ErrInvalidValue   = errors.New("wire: invalid value")
)
