// Package diff implements the bit-diff algebra: the sparse set of configuration
// bits that differ between a mutated build and its baseline.
package diff

import (
	"maps"
	"slices"
	"strings"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

// Diff maps a flipped bit to its value in the mutated image: true for a 0->1
// flip, false for 1->0. The zero value is the empty diff.
type Diff struct {
	bits map[tiledb.TileBit]bool
}

// New builds a diff from explicit bit values
func New(bits map[tiledb.TileBit]bool) Diff {
	d := Diff{}
	for b, v := range bits {
		d.Set(b, v)
	}
	return d
}

// Set records bit with value v
func (d *Diff) Set(bit tiledb.TileBit, v bool) {
	if d.bits == nil {
		d.bits = make(map[tiledb.TileBit]bool)
	}
	d.bits[bit] = v
}

// Get returns the recorded value of bit
func (d Diff) Get(bit tiledb.TileBit) (v, ok bool) {
	v, ok = d.bits[bit]
	return v, ok
}

// Has reports whether bit is recorded
func (d Diff) Has(bit tiledb.TileBit) bool {
	_, ok := d.bits[bit]
	return ok
}

// Remove drops bit and returns the value it had
func (d *Diff) Remove(bit tiledb.TileBit) (v, ok bool) {
	v, ok = d.bits[bit]
	delete(d.bits, bit)
	return v, ok
}

// Len returns the number of recorded bits
func (d Diff) Len() int {
	return len(d.bits)
}

// IsEmpty reports whether no bit is recorded
func (d Diff) IsEmpty() bool {
	return len(d.bits) == 0
}

// Bits returns the recorded bits in sorted order
func (d Diff) Bits() []tiledb.TileBit {
	return slices.SortedFunc(maps.Keys(d.bits), tiledb.TileBit.Compare)
}

// Clone returns an independent copy
func (d Diff) Clone() Diff {
	if len(d.bits) == 0 {
		return Diff{}
	}
	return Diff{bits: maps.Clone(d.bits)}
}

// Equal compares recorded bits and values
func (d Diff) Equal(o Diff) bool {
	return maps.Equal(d.bits, o.bits)
}

// Not inverts every recorded value
func (d Diff) Not() Diff {
	res := Diff{}
	for b, v := range d.bits {
		res.Set(b, !v)
	}
	return res
}

// String renders the diff as sorted bit:value pairs
func (d Diff) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, b := range d.Bits() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(b.String())
		if d.bits[b] {
			sb.WriteString(":1")
		} else {
			sb.WriteString(":0")
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// Combine is the union of a and b. A bit present in both must carry the same
// value; differing values are a DiffConflict.
func Combine(a, b Diff) (Diff, error) {
	res := a.Clone()
	for bit, v := range b.bits {
		if cur, ok := res.bits[bit]; ok {
			if cur != v {
				return Diff{}, errors.NewDiffConflict("bit %s is %t in one diff and %t in the other", bit, cur, v)
			}
			continue
		}
		res.Set(bit, v)
	}
	return res, nil
}

// Chain composes a (base->X) with b (X->Y) into base->Y. A bit flipped back by b
// cancels; a bit flipped the same way twice is a DiffConflict.
func Chain(a, b Diff) (Diff, error) {
	res := a.Clone()
	for bit, v := range b.bits {
		if cur, ok := res.bits[bit]; ok {
			if cur == v {
				return Diff{}, errors.NewDiffConflict("bit %s flipped to %t twice", bit, v)
			}
			delete(res.bits, bit)
			continue
		}
		res.Set(bit, v)
	}
	return res, nil
}

// Split partitions a and b into their unique parts and the shared part. Shared
// bits must carry identical values in both.
func Split(a, b Diff) (onlyA, onlyB, common Diff, err error) {
	onlyA, onlyB = a.Clone(), b.Clone()
	for bit, av := range a.bits {
		bv, ok := b.bits[bit]
		if !ok {
			continue
		}
		if av != bv {
			return Diff{}, Diff{}, Diff{}, errors.NewDiffConflict("common bit %s is %t in one diff and %t in the other", bit, av, bv)
		}
		common.Set(bit, av)
		delete(onlyA.bits, bit)
		delete(onlyB.bits, bit)
	}
	return onlyA, onlyB, common, nil
}

// SplitBitsBy moves every bit matching pred into a new diff
func (d *Diff) SplitBitsBy(pred func(tiledb.TileBit) bool) Diff {
	var res Diff
	for bit, v := range d.bits {
		if pred(bit) {
			res.Set(bit, v)
			delete(d.bits, bit)
		}
	}
	return res
}

// SplitBits moves the bits in set into a new diff
func (d *Diff) SplitBits(set map[tiledb.TileBit]struct{}) Diff {
	return d.SplitBitsBy(func(b tiledb.TileBit) bool {
		_, ok := set[b]
		return ok
	})
}

// DiscardBits removes every bit of item's layout
func (d *Diff) DiscardBits(item tiledb.TileItem) {
	d.DiscardRawBits(item.Bits)
}

// DiscardRawBits removes the given bits
func (d *Diff) DiscardRawBits(bits []tiledb.TileBit) {
	for _, b := range bits {
		delete(d.bits, b)
	}
}

// AssertEmpty fails with UnexplainedBits listing every leftover bit
func (d Diff) AssertEmpty() error {
	if d.IsEmpty() {
		return nil
	}
	return errors.WithDetailf(
		errors.NewUnexplainedBits("%d bit(s) left unattributed", d.Len()),
		"bits: %s", d,
	)
}

// FromBoolItem is the diff that turns a boolean item on
func FromBoolItem(item tiledb.TileItem) (Diff, error) {
	if !item.IsBool() {
		return Diff{}, errors.AssertionFailedf("item with %d bits (kind %s) is not a boolean", len(item.Bits), item.Kind)
	}
	var d Diff
	d.Set(item.Bits[0], !item.Invert[0])
	return d, nil
}

// ApplyBitVecDiff accounts for item's value changing from `from` to `to`. A bit
// already present must carry the `from` encoding and is removed; an absent bit
// gains the `to` encoding.
func (d *Diff) ApplyBitVecDiff(item tiledb.TileItem, from, to bitvec.BitVec) error {
	if item.Kind != tiledb.KindBitVec {
		return errors.AssertionFailedf("ApplyBitVecDiff on %s item", item.Kind)
	}
	if len(from) != len(item.Bits) || len(to) != len(item.Bits) {
		return errors.AssertionFailedf("value widths %d/%d do not match item width %d", len(from), len(to), len(item.Bits))
	}
	for i, bit := range item.Bits {
		if from[i] == to[i] {
			continue
		}
		if err := d.applyBit(bit, from[i] != item.Invert[i], to[i] != item.Invert[i]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBitVecDiffInt is ApplyBitVecDiff with integer values
func (d *Diff) ApplyBitVecDiffInt(item tiledb.TileItem, from, to uint64) error {
	n := len(item.Bits)
	return d.ApplyBitVecDiff(item, bitvec.FromUint(from, n), bitvec.FromUint(to, n))
}

// ApplyBitDiff is ApplyBitVecDiff for a boolean item
func (d *Diff) ApplyBitDiff(item tiledb.TileItem, from, to bool) error {
	return d.ApplyBitVecDiff(item, bitvec.BitVec{from}, bitvec.BitVec{to})
}

// ApplyEnumDiff accounts for an enum item changing from one label to another
func (d *Diff) ApplyEnumDiff(item tiledb.TileItem, fromLabel, toLabel string) error {
	if item.Kind != tiledb.KindEnum {
		return errors.AssertionFailedf("ApplyEnumDiff on %s item", item.Kind)
	}
	from, ok := item.Values[fromLabel]
	if !ok {
		return errors.NewNotFoundError("enum value %q", fromLabel)
	}
	to, ok := item.Values[toLabel]
	if !ok {
		return errors.NewNotFoundError("enum value %q", toLabel)
	}
	for i, bit := range item.Bits {
		if from[i] == to[i] {
			continue
		}
		if err := d.applyBit(bit, from[i], to[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Diff) applyBit(bit tiledb.TileBit, from, to bool) error {
	if cur, ok := d.bits[bit]; ok {
		if cur != from {
			return errors.NewDiffConflict("bit %s is %t, expected %t before applying known change", bit, cur, from)
		}
		delete(d.bits, bit)
		return nil
	}
	d.Set(bit, to)
	return nil
}
