package tiledb

import (
	"maps"
	"slices"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/errors"
)

// ItemKind selects how a TileItem's bits are interpreted
type ItemKind uint8

const (
	// KindBitVec is a numeric field or boolean; Invert has one entry per bit
	KindBitVec ItemKind = iota
	// KindEnum is a value table mapping label to bit pattern
	KindEnum
)

// String returns the kind name used in dumps
func (k ItemKind) String() string {
	switch k {
	case KindBitVec:
		return "bitvec"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// TileItem is the classified meaning of an ordered list of tile bits
type TileItem struct {
	Bits   []TileBit
	Kind   ItemKind
	Invert bitvec.BitVec            // KindBitVec only
	Values map[string]bitvec.BitVec // KindEnum only
}

// NewBitVecItem builds a KindBitVec item
func NewBitVecItem(bits []TileBit, invert bitvec.BitVec) TileItem {
	return TileItem{Bits: bits, Kind: KindBitVec, Invert: invert}
}

// NewEnumItem builds a KindEnum item
func NewEnumItem(bits []TileBit, values map[string]bitvec.BitVec) TileItem {
	return TileItem{Bits: bits, Kind: KindEnum, Values: values}
}

// IsBool reports whether the item is a single-bit BitVec
func (it TileItem) IsBool() bool {
	return it.Kind == KindBitVec && len(it.Bits) == 1
}

// Validate checks that the descriptor matches the bit layout
func (it TileItem) Validate() error {
	seen := make(map[TileBit]struct{}, len(it.Bits))
	for _, b := range it.Bits {
		if err := b.Validate(); err != nil {
			return err
		}
		if _, dup := seen[b]; dup {
			return errors.NewDiffConflict("bit %s appears twice in item layout", b)
		}
		seen[b] = struct{}{}
	}

	switch it.Kind {
	case KindBitVec:
		if len(it.Invert) != len(it.Bits) {
			return errors.Newf("bitvec item has %d bits but %d invert entries", len(it.Bits), len(it.Invert))
		}
		if len(it.Values) != 0 {
			return errors.New("bitvec item must not carry enum values")
		}
	case KindEnum:
		if len(it.Values) == 0 {
			return errors.New("enum item has no values")
		}
		for label, v := range it.Values {
			if len(v) != len(it.Bits) {
				return errors.Newf("enum value %q has %d bits, item has %d", label, len(v), len(it.Bits))
			}
		}
	default:
		return errors.Newf("unknown item kind %d", it.Kind)
	}
	return nil
}

// Equal compares layout and descriptor
func (it TileItem) Equal(o TileItem) bool {
	if it.Kind != o.Kind || !slices.Equal(it.Bits, o.Bits) {
		return false
	}
	switch it.Kind {
	case KindBitVec:
		return it.Invert.Equal(o.Invert)
	case KindEnum:
		return maps.EqualFunc(it.Values, o.Values, bitvec.BitVec.Equal)
	}
	return true
}

// Clone returns a deep copy
func (it TileItem) Clone() TileItem {
	res := TileItem{
		Bits:   slices.Clone(it.Bits),
		Kind:   it.Kind,
		Invert: it.Invert.Clone(),
	}
	if it.Values != nil {
		res.Values = make(map[string]bitvec.BitVec, len(it.Values))
		for k, v := range it.Values {
			res.Values[k] = v.Clone()
		}
	}
	return res
}

// Labels returns the enum labels in sorted order
func (it TileItem) Labels() []string {
	return slices.Sorted(maps.Keys(it.Values))
}

// BitIndex returns the position of bit in the layout, or -1
func (it TileItem) BitIndex(bit TileBit) int {
	return slices.Index(it.Bits, bit)
}
