// Package tiledb holds the typed knowledge base produced by classification:
// tile items keyed by (tile, bel, attr), the misc and device tables, and their
// binary corpus and YAML dump encodings.
package tiledb

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teranos/hammer/entity"
	"github.com/teranos/hammer/errors"
)

// Rect tags indices of bit rectangles inside a tile
type Rect struct{}

// TileBit addresses one configuration bit of a tile instance
type TileBit struct {
	Rect  entity.Id[Rect]
	Frame int
	Bit   int
}

// MaxCoord is the largest rect, frame or bit index a corpus can store
const MaxCoord = math.MaxUint32

// ParseCoord reads one non-negative bit coordinate no larger than MaxCoord
func ParseCoord(s string) (int, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid bit coordinate %q", s)
	}
	return int(n), nil
}

// Validate checks that every coordinate fits the corpus encoding
func (b TileBit) Validate() error {
	if b.Frame < 0 || uint64(b.Frame) > MaxCoord || b.Bit < 0 || uint64(b.Bit) > MaxCoord {
		return errors.Newf("tile bit %s out of range (coordinates must be in [0, %d])", b, uint32(MaxCoord))
	}
	return nil
}

// NewTileBit builds a TileBit from raw indices
func NewTileBit(rect, frame, bit int) TileBit {
	return TileBit{Rect: entity.FromIdx[Rect](rect), Frame: frame, Bit: bit}
}

// Compare orders bits by rect, then frame, then bit
func (b TileBit) Compare(o TileBit) int {
	if c := cmp.Compare(b.Rect, o.Rect); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Frame, o.Frame); c != 0 {
		return c
	}
	return cmp.Compare(b.Bit, o.Bit)
}

// Less reports whether b sorts before o
func (b TileBit) Less(o TileBit) bool {
	return b.Compare(o) < 0
}

// String formats the bit as rect.frame.bit
func (b TileBit) String() string {
	return fmt.Sprintf("%d.%d.%d", b.Rect, b.Frame, b.Bit)
}

// ParseTileBit reads the rect.frame.bit form produced by String
func ParseTileBit(s string) (TileBit, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TileBit{}, errors.Newf("invalid tile bit %q: want rect.frame.bit", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := ParseCoord(p)
		if err != nil {
			return TileBit{}, errors.Wrapf(err, "invalid tile bit %q", s)
		}
		nums[i] = n
	}
	return NewTileBit(nums[0], nums[1], nums[2]), nil
}

// FormatBits renders a bit list for error details
func FormatBits(bits []TileBit) string {
	parts := make([]string, len(bits))
	for i, b := range bits {
		parts[i] = b.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
