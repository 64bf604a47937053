// Package leb128 implements the Little-Endian Base-128 variable length
// integer encoding over arbitrary precision integers.
//
// Each output byte carries seven payload bits, low group first. The high
// bit of every byte except the last is set to signal that another byte
// follows. Signed values use two's complement and stop once the sign bit of
// the last group matches the sign of the remaining value.
package leb128

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrEmpty is returned when decoding an empty buffer.
	ErrEmpty = errors.New("leb128: empty input")
	// ErrTruncated is returned when every byte in the buffer has the
	// continuation bit set.
	ErrTruncated = errors.New("leb128: truncated input")
)

const (
	groupBits    = 7
	groupMask    = 0x7f
	continuation = 0x80
	signBit      = 0x40
)

// Size returns the number of bytes Encode would produce for v.
//
// Unsigned sizing of a negative value uses its signed size, matching Encode.
func Size(v *big.Int, signed bool) int {
	if v.Sign() == 0 {
		return 1
	}
	return (significantBits(v, signed || v.Sign() < 0) + groupBits - 1) / groupBits
}

// significantBits returns the number of bits needed to represent v. In
// signed mode this includes the sign bit.
func significantBits(v *big.Int, signed bool) int {
	if !signed {
		return v.BitLen()
	}
	if v.Sign() >= 0 {
		return v.BitLen() + 1
	}
	// ^v == -v-1 for negative v; its bit length plus the sign bit.
	inv := new(big.Int).Not(v)
	return inv.BitLen() + 1
}

// Encode returns the LEB128 encoding of v.
func Encode(v *big.Int, signed bool) []byte {
	return Append(nil, v, signed)
}

// Append appends the LEB128 encoding of v to dst and returns the extended
// buffer.
func Append(dst []byte, v *big.Int, signed bool) []byte {
	return appendGroups(dst, v, Size(v, signed))
}

// AppendPadded appends the encoding of v using exactly width bytes. Groups
// beyond the minimal encoding are filled with continuation bytes carrying
// zero (or sign) bits, which decoders accept as the same value. It returns
// an error if v needs more than width bytes.
func AppendPadded(dst []byte, v *big.Int, signed bool, width int) ([]byte, error) {
	need := Size(v, signed)
	if width < need {
		return dst, fmt.Errorf("leb128: value needs %d bytes, only %d available", need, width)
	}
	return appendGroups(dst, v, width), nil
}

func appendGroups(dst []byte, v *big.Int, n int) []byte {
	x := v
	if v.Sign() < 0 {
		// Two's complement over n groups.
		mod := new(big.Int).Lsh(big.NewInt(1), uint(n*groupBits))
		x = new(big.Int).Add(v, mod)
	}

	var group big.Int
	mask := big.NewInt(groupMask)
	for i := 0; i < n; i++ {
		group.Rsh(x, uint(i*groupBits))
		group.And(&group, mask)
		b := byte(group.Uint64())
		if i != n-1 {
			b |= continuation
		}
		dst = append(dst, b)
	}
	return dst
}

// Decode reads one LEB128 value from the start of buf. It returns the value
// and the number of bytes consumed.
func Decode(buf []byte, signed bool) (*big.Int, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrEmpty
	}

	result := new(big.Int)
	var group big.Int
	for i, b := range buf {
		group.SetUint64(uint64(b & groupMask))
		group.Lsh(&group, uint(i*groupBits))
		result.Or(result, &group)

		if b&continuation != 0 {
			continue
		}

		n := i + 1
		if signed && b&signBit != 0 {
			// Sign extend from the top bit of the last group.
			ext := new(big.Int).Lsh(big.NewInt(1), uint(n*groupBits))
			result.Sub(result, ext)
		}
		return result, n, nil
	}
	return nil, 0, fmt.Errorf("%w: %d bytes without terminator", ErrTruncated, len(buf))
}

// AppendUint64 is a convenience wrapper for fixed-width unsigned values.
func AppendUint64(dst []byte, v uint64) []byte {
	return Append(dst, new(big.Int).SetUint64(v), false)
}

// AppendInt64 is a convenience wrapper for fixed-width signed values.
func AppendInt64(dst []byte, v int64) []byte {
	return Append(dst, big.NewInt(v), true)
}
