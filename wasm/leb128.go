package wasm

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a LEB128 value exceeds its bit width.
var ErrOverflow = errors.New("leb128: overflow")

// ReadU32 reads an unsigned LEB128 value of at most 32 bits.
func ReadU32(r io.ByteReader) (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 value of at most 64 bits.
func ReadU64(r io.ByteReader) (uint64, error) {
	return readUnsigned(r, 64)
}

// ReadS32 reads a signed LEB128 value of at most 32 bits.
func ReadS32(r io.ByteReader) (int32, error) {
	v, err := readSigned(r, 32)
	return int32(v), err
}

// ReadS64 reads a signed LEB128 value of at most 64 bits.
func ReadS64(r io.ByteReader) (int64, error) {
	return readSigned(r, 64)
}

func readUnsigned(r io.ByteReader, bits uint) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= bits {
			return 0, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if bits < 64 && result>>bits != 0 {
				return 0, ErrOverflow
			}
			return result, nil
		}
	}
}

func readSigned(r io.ByteReader, bits uint) (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= bits {
			return 0, ErrOverflow
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 != 0 {
			continue
		}
		if shift < 64 && b&0x40 != 0 {
			result |= -1 << shift
		}
		if bits < 64 && (result < -(1<<(bits-1)) || result >= 1<<(bits-1)) {
			return 0, ErrOverflow
		}
		return result, nil
	}
}

// AppendU32 appends v as unsigned LEB128.
func AppendU32(dst []byte, v uint32) []byte {
	return AppendU64(dst, uint64(v))
}

// AppendU64 appends v as unsigned LEB128.
func AppendU64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendS32 appends v as signed LEB128.
func AppendS32(dst []byte, v int32) []byte {
	return AppendS64(dst, int64(v))
}

// AppendS64 appends v as signed LEB128.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
