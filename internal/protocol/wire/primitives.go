package wire

const (
	MaxU24 = 1<<24 - 1

	MaxB032  = 32
	MaxB0255 = 255
	MaxB064K = 1<<16 - 1
	MaxB016M = MaxU24

	MaxSeq0255 = 255
	MaxSeq064K = 1<<16 - 1
)

type (
	U8   uint8
	U16  uint16
	U24  uint32
	U32  uint32
	U64  uint64
	Bool bool
)

func (U8) EncodedLen() int              { return 1 }
func (v U8) EncodeTo(w *Writer) error   { return w.PutU8(uint8(v)) }
func (U16) EncodedLen() int             { return 2 }
func (v U16) EncodeTo(w *Writer) error  { return w.PutU16(uint16(v)) }
func (U24) EncodedLen() int             { return 3 }
func (v U24) EncodeTo(w *Writer) error  { return w.PutU24(uint32(v)) }
func (U32) EncodedLen() int             { return 4 }
func (v U32) EncodeTo(w *Writer) error  { return w.PutU32(uint32(v)) }
func (U64) EncodedLen() int             { return 8 }
func (v U64) EncodeTo(w *Writer) error  { return w.PutU64(uint64(v)) }
func (Bool) EncodedLen() int            { return 1 }
func (v Bool) EncodeTo(w *Writer) error { return w.PutBool(bool(v)) }

func (U8) DecodeFrom(r *Reader) (U8, error) {
	v, err := r.U8()
	return U8(v), err
}

func (U16) DecodeFrom(r *Reader) (U16, error) {
	v, err := r.U16()
	return U16(v), err
}

func (U24) DecodeFrom(r *Reader) (U24, error) {
	v, err := r.U24()
	return U24(v), err
}

func (U32) DecodeFrom(r *Reader) (U32, error) {
	v, err := r.U32()
	return U32(v), err
}

func (U64) DecodeFrom(r *Reader) (U64, error) {
	v, err := r.U64()
	return U64(v), err
}

func (Bool) DecodeFrom(r *Reader) (Bool, error) {
	v, err := r.Bool()
	return Bool(v), err
}

// U256 is a 32-byte value such as a hash or target, stored as raw bytes.
type U256 [32]byte

// PubKey is a 32-byte X25519 public key.
type PubKey [32]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

func (U256) EncodedLen() int            { return len(U256{}) }
func (v U256) EncodeTo(w *Writer) error { return w.PutBytes(v[:]) }

func (U256) DecodeFrom(r *Reader) (U256, error) {
	var v U256
	b, err := r.Bytes(len(v))
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

func (PubKey) EncodedLen() int            { return len(PubKey{}) }
func (v PubKey) EncodeTo(w *Writer) error { return w.PutBytes(v[:]) }

func (PubKey) DecodeFrom(r *Reader) (PubKey, error) {
	var v PubKey
	b, err := r.Bytes(len(v))
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

func (Signature) EncodedLen() int            { return len(Signature{}) }
func (v Signature) EncodeTo(w *Writer) error { return w.PutBytes(v[:]) }

func (Signature) DecodeFrom(r *Reader) (Signature, error) {
	var v Signature
	b, err := r.Bytes(len(v))
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}
