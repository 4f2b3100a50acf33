// Package reader provides the positional byte-stream primitives the
// section and instruction decoders are built from. Errors are always
// wrapped with the byte offset at which they occurred; decode never
// panics on malformed input, it returns an error.
package reader

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/stealthrocket/wasmi/internal/leb128"
)

// Reader wraps a byte slice with a cursor, exposing the primitives every
// decoder in this module is built from.
type Reader struct {
	buf []byte
	pos int
}

// New wraps b for sequential decoding starting at offset 0.
func New(b []byte) *Reader {
	return &Reader{buf: b}
}

// Pos returns the current byte offset, used in error messages.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Done reports whether the reader has consumed every byte.
func (r *Reader) Done() bool { return r.pos >= len(r.buf) }

func (r *Reader) errf(format string, args ...any) error {
	return fmt.Errorf("decode: offset %d: %s", r.pos, fmt.Sprintf(format, args...))
}

// ReadByte implements leb128.ByteReader and io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Bytes consumes and returns the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, r.errf("need %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Uint32 reads an unsigned LEB128 value.
func (r *Reader) Uint32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

// Uint64 reads an unsigned LEB128 value.
func (r *Reader) Uint64() (uint64, error) {
	v, _, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

// Int32 reads a signed LEB128 value.
func (r *Reader) Int32() (int32, error) {
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

// Int64 reads a signed LEB128 value.
func (r *Reader) Int64() (int64, error) {
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

// Byte reads a single raw byte (not LEB128-encoded), e.g. a type tag.
func (r *Reader) Byte() (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, r.wrap(err)
	}
	return b, nil
}

// F32Bits reads a little-endian 32-bit float bit pattern.
func (r *Reader) F32Bits() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// F64Bits reads a little-endian 64-bit float bit pattern.
func (r *Reader) F64Bits() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// F32 reads a little-endian binary32 float.
func (r *Reader) F32() (float32, error) {
	bits, err := r.F32Bits()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// F64 reads a little-endian binary64 float.
func (r *Reader) F64() (float64, error) {
	bits, err := r.F64Bits()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// Name reads a length-prefixed UTF-8 string.
func (r *Reader) Name() (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", fmt.Errorf("name length: %w", err)
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", fmt.Errorf("name bytes: %w", err)
	}
	return string(b), nil
}

// Vector reads an unsigned LEB128 count n, then invokes parse n times,
// returning the collected results: the generic "counted vector"
// combinator the binary format uses for every section's element list.
func Vector[T any](r *Reader, parse func(*Reader) (T, error)) ([]T, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("vector length: %w", err)
	}
	out := make([]T, n)
	for i := uint32(0); i < n; i++ {
		v, err := parse(r)
		if err != nil {
			return nil, fmt.Errorf("vector[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (r *Reader) wrap(err error) error {
	return fmt.Errorf("decode: offset %d: %w", r.pos, err)
}

// Errf formats a positional decode error, exported for the sibling
// package decode, which wants the same "offset N: message" shape.
func (r *Reader) Errf(format string, args ...any) error {
	return r.errf(format, args...)
}
