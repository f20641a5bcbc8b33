package wire

import "fmt"

// Seq0255 is a sequence of at most 255 elements behind a 1-byte count.
type Seq0255[T Codec[T]] []T

// Seq064K is a sequence of at most 65535 elements behind a 2-byte count.
type Seq064K[T Codec[T]] []T

// PrefixedSeq064K is a sequence of at most 65535 elements behind a 2-byte
// count where every element is preceded by its own 2-byte encoded length.
// Each element must consume exactly its declared length.
type PrefixedSeq064K[T Codec[T]] []T

func (s Seq0255[T]) EncodedLen() int { return 1 + elemsLen(s) }
func (s Seq064K[T]) EncodedLen() int { return 2 + elemsLen(s) }

func (s PrefixedSeq064K[T]) EncodedLen() int {
	return 2 + 2*len(s) + elemsLen(s)
}

func (s Seq0255[T]) EncodeTo(w *Writer) error {
	return encodeSeq(w, 1, MaxSeq0255, s)
}

func (s Seq064K[T]) EncodeTo(w *Writer) error {
	return encodeSeq(w, 2, MaxSeq064K, s)
}

func (s PrefixedSeq064K[T]) EncodeTo(w *Writer) error {
	if len(s) > MaxSeq064K {
		return fmt.Errorf("%w: %d elements exceeds max %d", ErrInvalidLength, len(s), MaxSeq064K)
	}
	if err := w.PutU16(uint16(len(s))); err != nil {
		return err
	}
	for i, item := range s {
		n := item.EncodedLen()
		if n > MaxB064K {
			return fmt.Errorf("%w: element %d is %d bytes", ErrInvalidLength, i, n)
		}
		if err := w.PutU16(uint16(n)); err != nil {
			return err
		}
		if err := item.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

func (Seq0255[T]) DecodeFrom(r *Reader) (Seq0255[T], error) {
	items, err := decodeSeq[T](r, 1)
	return Seq0255[T](items), err
}

func (Seq064K[T]) DecodeFrom(r *Reader) (Seq064K[T], error) {
	items, err := decodeSeq[T](r, 2)
	return Seq064K[T](items), err
}

func (PrefixedSeq064K[T]) DecodeFrom(r *Reader) (PrefixedSeq064K[T], error) {
	count, err := r.U16()
	if err != nil {
		return nil, err
	}
	// Every element costs at least its 2-byte length prefix.
	if int(count)*2 > r.Remaining() {
		return nil, fmt.Errorf("%w: %d elements cannot fit in %d bytes", ErrTruncatedInput, count, r.Remaining())
	}
	var zero T
	out := make(PrefixedSeq064K[T], 0, count)
	for i := 0; i < int(count); i++ {
		n, err := r.U16()
		if err != nil {
			return nil, err
		}
		body, err := r.Bytes(int(n))
		if err != nil {
			return nil, err
		}
		sub := NewReader(body)
		item, err := zero.DecodeFrom(sub)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if sub.Remaining() != 0 {
			return nil, fmt.Errorf("%w: element %d left %d of %d bytes", ErrInvalidLength, i, sub.Remaining(), n)
		}
		out = append(out, item)
	}
	return out, nil
}

func elemsLen[T Encodable](items []T) int {
	total := 0
	for _, item := range items {
		total += item.EncodedLen()
	}
	return total
}

func encodeSeq[T Encodable](w *Writer, width int, limit int, items []T) error {
	if len(items) > limit {
		return fmt.Errorf("%w: %d elements exceeds max %d", ErrInvalidLength, len(items), limit)
	}
	if err := putPrefix(w, width, len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := item.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeSeq[T Codec[T]](r *Reader, width int) ([]T, error) {
	count, err := readPrefix(r, width)
	if err != nil {
		return nil, err
	}
	// Every shape encodes to at least one byte.
	if count > r.Remaining() {
		return nil, fmt.Errorf("%w: %d elements cannot fit in %d bytes", ErrTruncatedInput, count, r.Remaining())
	}
	var zero T
	out := make([]T, 0, count)
	for i := 0; i < count; i++ {
		item, err := zero.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}
