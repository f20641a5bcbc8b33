package wire

import "fmt"

// Length-prefixed byte sequences. The suffix names the bound: B032 holds at
// most 32 bytes behind a 1-byte prefix, B0255 at most 255 behind a 1-byte
// prefix, B064K at most 65535 behind a 2-byte prefix and B016M at most
// 2^24-1 behind a 3-byte prefix.
type (
	B032  []byte
	B0255 []byte
	B064K []byte
	B016M []byte
)

// Str0255 is the string form of B0255. Decoding copies.
type Str0255 string

func (v B032) EncodedLen() int  { return 1 + len(v) }
func (v B0255) EncodedLen() int { return 1 + len(v) }
func (v B064K) EncodedLen() int { return 2 + len(v) }
func (v B016M) EncodedLen() int { return 3 + len(v) }

func (v Str0255) EncodedLen() int { return 1 + len(v) }

func (v B032) EncodeTo(w *Writer) error  { return putPrefixed(w, 1, MaxB032, v) }
func (v B0255) EncodeTo(w *Writer) error { return putPrefixed(w, 1, MaxB0255, v) }
func (v B064K) EncodeTo(w *Writer) error { return putPrefixed(w, 2, MaxB064K, v) }
func (v B016M) EncodeTo(w *Writer) error { return putPrefixed(w, 3, MaxB016M, v) }

func (v Str0255) EncodeTo(w *Writer) error {
	return putPrefixed(w, 1, MaxB0255, []byte(v))
}

func (B032) DecodeFrom(r *Reader) (B032, error) {
	b, err := readPrefixed(r, 1, MaxB032)
	return B032(b), err
}

func (B0255) DecodeFrom(r *Reader) (B0255, error) {
	b, err := readPrefixed(r, 1, MaxB0255)
	return B0255(b), err
}

func (B064K) DecodeFrom(r *Reader) (B064K, error) {
	b, err := readPrefixed(r, 2, MaxB064K)
	return B064K(b), err
}

func (B016M) DecodeFrom(r *Reader) (B016M, error) {
	b, err := readPrefixed(r, 3, MaxB016M)
	return B016M(b), err
}

func (Str0255) DecodeFrom(r *Reader) (Str0255, error) {
	b, err := readPrefixed(r, 1, MaxB0255)
	return Str0255(b), err
}

func putPrefix(w *Writer, width int, n int) error {
	switch width {
	case 1:
		return w.PutU8(uint8(n))
	case 2:
		return w.PutU16(uint16(n))
	case 3:
		return w.PutU24(uint32(n))
	default:
		return fmt.Errorf("%w: prefix width %d", ErrInvalidLength, width)
	}
}

func readPrefix(r *Reader, width int) (int, error) {
	switch width {
	case 1:
		n, err := r.U8()
		return int(n), err
	case 2:
		n, err := r.U16()
		return int(n), err
	case 3:
		n, err := r.U24()
		return int(n), err
	default:
		return 0, fmt.Errorf("%w: prefix width %d", ErrInvalidLength, width)
	}
}

func putPrefixed(w *Writer, width int, limit int, b []byte) error {
	if len(b) > limit {
		return fmt.Errorf("%w: %d bytes exceeds max %d", ErrInvalidLength, len(b), limit)
	}
	if width+len(b) > w.Available() {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, width+len(b), w.Available())
	}
	if err := putPrefix(w, width, len(b)); err != nil {
		return err
	}
	return w.PutBytes(b)
}

func readPrefixed(r *Reader, width int, limit int) ([]byte, error) {
	n, err := readPrefix(r, width)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("%w: prefix %d exceeds max %d", ErrInvalidLength, n, limit)
	}
	return r.Bytes(n)
}
