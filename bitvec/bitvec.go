// Package bitvec implements a small bit vector value type.
//
// Index 0 is the least significant bit when a BitVec is read as an integer, and
// the first character of its string form.
package bitvec

import (
	"strings"

	"github.com/teranos/hammer/errors"
)

// BitVec is an ordered sequence of bits
type BitVec []bool

// Repeat returns a BitVec of n copies of v
func Repeat(v bool, n int) BitVec {
	res := make(BitVec, n)
	if v {
		for i := range res {
			res[i] = true
		}
	}
	return res
}

// FromUint returns the low width bits of n
func FromUint(n uint64, width int) BitVec {
	res := make(BitVec, width)
	for i := 0; i < width && i < 64; i++ {
		res[i] = n&(1<<i) != 0
	}
	return res
}

// Parse reads a string of '0' and '1' characters, index 0 first
func Parse(s string) (BitVec, error) {
	res := make(BitVec, len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			res[i] = true
		default:
			return nil, errors.Newf("invalid bit %q at position %d in %q", c, i, s)
		}
	}
	return res, nil
}

// Uint reads the vector as an unsigned integer. Bits above 64 are ignored.
func (b BitVec) Uint() uint64 {
	var n uint64
	for i, v := range b {
		if v && i < 64 {
			n |= 1 << i
		}
	}
	return n
}

// All reports whether every bit is set. An empty vector is all-set.
func (b BitVec) All() bool {
	for _, v := range b {
		if !v {
			return false
		}
	}
	return true
}

// Any reports whether at least one bit is set
func (b BitVec) Any() bool {
	for _, v := range b {
		if v {
			return true
		}
	}
	return false
}

// OneHot returns the index of the only set bit
func (b BitVec) OneHot() (int, bool) {
	idx := -1
	for i, v := range b {
		if !v {
			continue
		}
		if idx >= 0 {
			return -1, false
		}
		idx = i
	}
	return idx, idx >= 0
}

// Xor returns b ^ o. Both vectors must have the same length.
func (b BitVec) Xor(o BitVec) BitVec {
	if len(b) != len(o) {
		panic("bitvec: xor of vectors with different lengths")
	}
	res := make(BitVec, len(b))
	for i := range b {
		res[i] = b[i] != o[i]
	}
	return res
}

// Not returns the complement of b
func (b BitVec) Not() BitVec {
	res := make(BitVec, len(b))
	for i, v := range b {
		res[i] = !v
	}
	return res
}

// Equal reports whether both vectors have the same length and bits
func (b BitVec) Equal(o BitVec) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (b BitVec) Clone() BitVec {
	if b == nil {
		return nil
	}
	return append(BitVec(nil), b...)
}

// Swap exchanges bits i and j in place
func (b BitVec) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// String renders the vector as '0'/'1' characters, index 0 first
func (b BitVec) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, v := range b {
		if v {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
