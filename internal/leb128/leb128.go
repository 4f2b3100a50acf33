// Package leb128 encodes and decodes the LEB128 variable-length integers
// used throughout the binary module format.
package leb128

import "fmt"

// maxVarint32Bytes and maxVarint64Bytes cap the number of continuation
// bytes a well-formed LEB128 value may use, matching the source profile
// (5 bytes for 32-bit values, 10 for 64-bit).
const (
	maxVarint32Bytes = 5
	maxVarint64Bytes = 10
)

// ByteReader is the minimal interface decoders need: a single-byte reader
// with position tracking left to the caller.
type ByteReader interface {
	ReadByte() (byte, error)
}

// DecodeUint32 reads an unsigned LEB128 value into a uint32.
func DecodeUint32(r ByteReader) (uint32, uint32, error) {
	v, n, err := decodeUint(r, maxVarint32Bytes)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128 value into a uint64.
func DecodeUint64(r ByteReader) (uint64, uint32, error) {
	return decodeUint(r, maxVarint64Bytes)
}

// DecodeInt32 reads a signed LEB128 value into an int32.
func DecodeInt32(r ByteReader) (int32, uint32, error) {
	v, n, err := decodeInt(r, maxVarint32Bytes)
	return int32(v), n, err
}

// DecodeInt64 reads a signed LEB128 value into an int64.
func DecodeInt64(r ByteReader) (int64, uint32, error) {
	return decodeInt(r, maxVarint64Bytes)
}

func decodeUint(r ByteReader, maxBytes int) (uint64, uint32, error) {
	var result uint64
	var shift uint
	var n uint32

	for {
		if int(n) >= maxBytes {
			return 0, n, fmt.Errorf("leb128: unsigned varint exceeds %d bytes", maxBytes)
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, n, fmt.Errorf("leb128: %w", err)
		}
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n, nil
}

func decodeInt(r ByteReader, maxBytes int) (int64, uint32, error) {
	var result int64
	var shift uint
	var n uint32
	var b byte
	var err error

	for {
		if int(n) >= maxBytes {
			return 0, n, fmt.Errorf("leb128: signed varint exceeds %d bytes", maxBytes)
		}
		b, err = r.ReadByte()
		if err != nil {
			return 0, n, fmt.Errorf("leb128: %w", err)
		}
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// sign-extend if the sign bit of the final group is set and there are
	// remaining high bits to fill.
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

// EncodeUint32 is provided for symmetry with the decoder (used by tests
// that build in-memory module fixtures).
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 LEB128-encodes an unsigned integer.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// EncodeInt32 is provided for symmetry with the decoder (test fixtures).
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 LEB128-encodes a signed integer.
func EncodeInt64(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
