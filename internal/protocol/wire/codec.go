package wire

import "fmt"

// Encodable is a value with a fixed canonical encoding.
type Encodable interface {
	// EncodedLen returns the exact number of bytes EncodeTo writes.
	EncodedLen() int
	EncodeTo(w *Writer) error
}

// Decodable parses a T from the front of a reader. Implementations use a
// value receiver and ignore it, so a zero T can decode the next value.
type Decodable[T any] interface {
	DecodeFrom(r *Reader) (T, error)
}

// Codec is the full capability every field shape and message implements.
type Codec[T any] interface {
	Encodable
	Decodable[T]
}

// Encode writes v into out starting at offset zero and returns the number
// of bytes written.
func Encode(v Encodable, out []byte) (int, error) {
	n := v.EncodedLen()
	if n > len(out) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, n, len(out))
	}
	w := NewWriter(out)
	if err := v.EncodeTo(w); err != nil {
		return 0, err
	}
	return w.Len(), nil
}

// Marshal encodes v into a freshly allocated buffer of exactly EncodedLen bytes.
func Marshal(v Encodable) ([]byte, error) {
	out := make([]byte, v.EncodedLen())
	n, err := Encode(v, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// Decode parses a T from the front of in and returns the number of bytes
// consumed. Byte-sequence fields of the result alias in.
func Decode[T Decodable[T]](in []byte) (T, int, error) {
	var zero T
	r := NewReader(in)
	v, err := zero.DecodeFrom(r)
	if err != nil {
		return zero, 0, err
	}
	return v, r.Offset(), nil
}

// DecodeExact is Decode that also rejects trailing bytes.
func DecodeExact[T Decodable[T]](in []byte) (T, error) {
	v, n, err := Decode[T](in)
	if err != nil {
		return v, err
	}
	if n != len(in) {
		var zero T
		return zero, fmt.Errorf("%w: %d trailing bytes", ErrInvalidLength, len(in)-n)
	}
	return v, nil
}

// SizeOf sums the encoded length of the fields of a composite.
func SizeOf(fields ...Encodable) int {
	total := 0
	for _, f := range fields {
		total += f.EncodedLen()
	}
	return total
}

// EncodeAll writes fields in declaration order.
func EncodeAll(w *Writer, fields ...Encodable) error {
	for _, f := range fields {
		if err := f.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}
