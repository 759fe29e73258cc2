package diff

import (
	"maps"
	"slices"

	"github.com/teranos/hammer/tiledb"
)

// Image is a built configuration: the bits reading 1 and the facts the
// toolchain reported about the design (e.g. routed edges).
type Image struct {
	bits  map[tiledb.TileBit]struct{}
	facts map[string]struct{}
}

// NewImage builds an image from its set bits and facts
func NewImage(bits []tiledb.TileBit, facts []string) Image {
	img := Image{}
	for _, b := range bits {
		img.SetBit(b)
	}
	for _, f := range facts {
		img.AddFact(f)
	}
	return img
}

// SetBit marks bit as 1
func (img *Image) SetBit(bit tiledb.TileBit) {
	if img.bits == nil {
		img.bits = make(map[tiledb.TileBit]struct{})
	}
	img.bits[bit] = struct{}{}
}

// AddFact records a toolchain fact
func (img *Image) AddFact(fact string) {
	if img.facts == nil {
		img.facts = make(map[string]struct{})
	}
	img.facts[fact] = struct{}{}
}

// Bit reports whether bit is 1
func (img Image) Bit(bit tiledb.TileBit) bool {
	_, ok := img.bits[bit]
	return ok
}

// HasFact reports whether the toolchain reported fact
func (img Image) HasFact(fact string) bool {
	_, ok := img.facts[fact]
	return ok
}

// Bits returns the set bits in sorted order
func (img Image) Bits() []tiledb.TileBit {
	return slices.SortedFunc(maps.Keys(img.bits), tiledb.TileBit.Compare)
}

// Facts returns the facts in sorted order
func (img Image) Facts() []string {
	return slices.Sorted(maps.Keys(img.facts))
}

// Len returns the number of set bits
func (img Image) Len() int {
	return len(img.bits)
}

// Equal compares bits and facts
func (img Image) Equal(o Image) bool {
	return maps.Equal(img.bits, o.bits) && maps.Equal(img.facts, o.facts)
}

// Between returns the diff turning base into img: bits set only in img are
// true, bits set only in base are false.
func Between(base, img Image) Diff {
	var d Diff
	for b := range img.bits {
		if !base.Bit(b) {
			d.Set(b, true)
		}
	}
	for b := range base.bits {
		if !img.Bit(b) {
			d.Set(b, false)
		}
	}
	return d
}
