// Package collector classifies raw feature diffs into tile items.
//
// The Xlat* functions are pure: they turn diffs into a TileItem or fail. The
// Collector type binds them to a feature.State and a tiledb.TileDb and keeps
// every bit of every feature accounted for.
package collector

import (
	"slices"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

// XlatBit translates a diff of exactly one bit into a boolean item. The item
// is inverted when the bit flips 1->0.
func XlatBit(d diff.Diff) (tiledb.TileItem, error) {
	b, inv, err := singleBit(d)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return tiledb.NewBitVecItem([]tiledb.TileBit{b}, bitvec.BitVec{inv}), nil
}

func singleBit(d diff.Diff) (tiledb.TileBit, bool, error) {
	if d.Len() != 1 {
		return tiledb.TileBit{}, false, errors.WithDetailf(
			errors.NewDiffConflict("expected a single-bit diff, got %d bits", d.Len()),
			"diff: %s", d,
		)
	}
	b := d.Bits()[0]
	v, _ := d.Get(b)
	return b, !v, nil
}

// XlatBitVec translates one single-bit diff per field bit, LSB first
func XlatBitVec(diffs []diff.Diff) (tiledb.TileItem, error) {
	bits := make([]tiledb.TileBit, 0, len(diffs))
	invert := make(bitvec.BitVec, 0, len(diffs))
	for i, d := range diffs {
		b, inv, err := singleBit(d)
		if err != nil {
			return tiledb.TileItem{}, errors.Wrapf(err, "field bit %d", i)
		}
		bits = append(bits, b)
		invert = append(invert, inv)
	}
	item := tiledb.NewBitVecItem(bits, invert)
	if err := item.Validate(); err != nil {
		return tiledb.TileItem{}, err
	}
	return item, nil
}

// XlatBitWide translates a diff whose bits all encode the same boolean
func XlatBitWide(d diff.Diff) (tiledb.TileItem, error) {
	if d.IsEmpty() {
		return tiledb.TileItem{}, errors.NewDiffConflict("wide bit from an empty diff")
	}
	item := wideItem(d)
	if !item.Invert.All() && item.Invert.Any() {
		return tiledb.TileItem{}, errors.WithDetailf(
			errors.NewDiffConflict("wide bit mixes polarities"),
			"diff: %s", d,
		)
	}
	return item, nil
}

func wideItem(d diff.Diff) tiledb.TileItem {
	bits := d.Bits()
	invert := make(bitvec.BitVec, len(bits))
	for i, b := range bits {
		v, _ := d.Get(b)
		invert[i] = !v
	}
	return tiledb.NewBitVecItem(bits, invert)
}

// XlatBitWideBi translates a boolean observed from both sides: d0 turns it off
// and d1 turns it on relative to a baseline holding some third state. The two
// diffs must be disjoint. The returned vector holds, per bit, whether d0
// touched it (the baseline encoding).
func XlatBitWideBi(d0, d1 diff.Diff) (tiledb.TileItem, bitvec.BitVec, error) {
	combined, err := diff.Chain(d1, d0.Not())
	if err != nil {
		return tiledb.TileItem{}, nil, err
	}
	if combined.Len() != d0.Len()+d1.Len() {
		return tiledb.TileItem{}, nil, errors.NewDiffConflict("bi-directional diffs share %d bit(s)", d0.Len()+d1.Len()-combined.Len())
	}
	item := wideItem(combined)
	def := make(bitvec.BitVec, len(item.Bits))
	for i, b := range item.Bits {
		def[i] = d0.Has(b)
	}
	return item, def, nil
}

// ConcatBitVec joins bitvec items into one wider field
func ConcatBitVec(items ...tiledb.TileItem) (tiledb.TileItem, error) {
	var bits []tiledb.TileBit
	var invert bitvec.BitVec
	for i, it := range items {
		if it.Kind != tiledb.KindBitVec {
			return tiledb.TileItem{}, errors.AssertionFailedf("concat item %d is %s, not bitvec", i, it.Kind)
		}
		bits = append(bits, it.Bits...)
		invert = append(invert, it.Invert...)
	}
	item := tiledb.NewBitVecItem(bits, invert)
	if err := item.Validate(); err != nil {
		return tiledb.TileItem{}, err
	}
	return item, nil
}

// XlatBoolDefault translates a two-state attribute where exactly one state
// matches the baseline. defaultIsOne reports that the baseline holds the
// "1" state (d0 carries the bits).
func XlatBoolDefault(d0, d1 diff.Diff) (item tiledb.TileItem, defaultIsOne bool, err error) {
	if d0.IsEmpty() {
		item, err = XlatBit(d1)
		return item, false, err
	}
	if !d1.IsEmpty() {
		return tiledb.TileItem{}, false, errors.WithDetailf(
			errors.NewDiffConflict("both states of a boolean differ from the baseline"),
			"0: %s\n1: %s", d0, d1,
		)
	}
	item, err = XlatBit(d0.Not())
	return item, true, err
}

// XlatBool is XlatBoolDefault without the default
func XlatBool(d0, d1 diff.Diff) (tiledb.TileItem, error) {
	item, _, err := XlatBoolDefault(d0, d1)
	return item, err
}

// NumberedDiff is the diff observed when a numeric attribute took Value
type NumberedDiff struct {
	Value uint32
	Diff  diff.Diff
}

// XlatEnumInt discovers a numeric field from diffs at arbitrary values. The
// value whose diff is empty is the baseline; powers of two relative to it
// reveal one bit each, and every other value must be explained by them.
func XlatEnumInt(numbered []NumberedDiff) (tiledb.TileItem, error) {
	var xor uint32
	for _, n := range numbered {
		if n.Diff.IsEmpty() {
			xor = n.Value
		}
	}

	var bits []*tiledb.TileBit
	for {
		progress, done := false, true
		for _, n := range numbered {
			val := n.Value ^ xor
			d := n.Diff.Clone()
			for i, b := range bits {
				if b == nil || val&(1<<i) == 0 {
					continue
				}
				val &^= 1 << i
				want := xor>>i&1 == 0
				got, ok := d.Remove(*b)
				if !ok || got != want {
					return tiledb.TileItem{}, errors.NewDiffConflict("value %d: bit %d (%s) not flipped to %t", n.Value, i, *b, want)
				}
			}
			switch {
			case val == 0:
				if err := d.AssertEmpty(); err != nil {
					return tiledb.TileItem{}, errors.Wrapf(err, "value %d", n.Value)
				}
			case val&(val-1) == 0:
				idx := 0
				for val>>idx != 1 {
					idx++
				}
				for len(bits) <= idx {
					bits = append(bits, nil)
				}
				b, inv, err := singleBit(d)
				if err != nil {
					return tiledb.TileItem{}, errors.Wrapf(err, "value %d", n.Value)
				}
				if want := xor>>idx&1 == 0; inv == want {
					return tiledb.TileItem{}, errors.NewDiffConflict("value %d: bit %s has unexpected polarity", n.Value, b)
				}
				if bits[idx] != nil && *bits[idx] != b {
					return tiledb.TileItem{}, errors.NewDiffConflict("field bit %d is both %s and %s", idx, *bits[idx], b)
				}
				if bits[idx] == nil {
					bits[idx] = &b
					progress = true
				}
			default:
				done = false
			}
		}
		if done {
			break
		}
		if !progress {
			return tiledb.TileItem{}, errors.NewDiffConflict("cannot resolve numeric field from %d values", len(numbered))
		}
	}

	res := make([]tiledb.TileBit, len(bits))
	for i, b := range bits {
		if b == nil {
			return tiledb.TileItem{}, errors.NewDiffConflict("numeric field bit %d never observed", i)
		}
		res[i] = *b
	}
	item := tiledb.NewBitVecItem(res, bitvec.Repeat(false, len(res)))
	return item, item.Validate()
}

// SparseDiff is the diff observed when a field took the value Value
type SparseDiff struct {
	Value bitvec.BitVec
	Diff  diff.Diff
}

// XlatBitVecSparse discovers a field from diffs at arbitrary values. Bits are
// learned from values one bit away from the baseline (the value with an empty
// diff), or from pairs of values one bit apart.
func XlatBitVecSparse(sparse []SparseDiff) (tiledb.TileItem, error) {
	if len(sparse) == 0 {
		return tiledb.TileItem{}, errors.AssertionFailedf("XlatBitVecSparse with no values")
	}
	width := len(sparse[0].Value)
	xor := bitvec.Repeat(false, width)
	for _, s := range sparse {
		if len(s.Value) != width {
			return tiledb.TileItem{}, errors.AssertionFailedf("value %s has width %d, want %d", s.Value, len(s.Value), width)
		}
		if s.Diff.IsEmpty() {
			xor = s.Value.Clone()
		}
	}

	bits := make([]tiledb.TileBit, width)
	invert := make(bitvec.BitVec, width)
	known := make([]bool, width)

	// stripKnown moves val to the baseline on every known bit, undoing those bits in d
	stripKnown := func(s SparseDiff) (bitvec.BitVec, diff.Diff, error) {
		val := s.Value.Clone()
		d := s.Diff.Clone()
		for i := range width {
			if !known[i] || val[i] == xor[i] {
				continue
			}
			item := tiledb.NewBitVecItem([]tiledb.TileBit{bits[i]}, bitvec.BitVec{invert[i]})
			if err := d.ApplyBitDiff(item, val[i], xor[i]); err != nil {
				return nil, diff.Diff{}, errors.Wrapf(err, "value %s", s.Value)
			}
			val[i] = xor[i]
		}
		return val, d, nil
	}

	for {
		progress, done := false, true
		for _, s := range sparse {
			val, d, err := stripKnown(s)
			if err != nil {
				return tiledb.TileItem{}, err
			}
			rel := val.Xor(xor)
			if !rel.Any() {
				if err := d.AssertEmpty(); err != nil {
					return tiledb.TileItem{}, errors.Wrapf(err, "value %s", s.Value)
				}
				continue
			}
			idx, ok := rel.OneHot()
			if !ok {
				done = false
				continue
			}
			b, inv, err := singleBit(d)
			if err != nil {
				return tiledb.TileItem{}, errors.Wrapf(err, "value %s", s.Value)
			}
			inv = inv != xor[idx]
			if known[idx] {
				if bits[idx] != b || invert[idx] != inv {
					return tiledb.TileItem{}, errors.NewDiffConflict("field bit %d observed as two different bits", idx)
				}
				continue
			}
			bits[idx], invert[idx], known[idx] = b, inv, true
			progress = true
		}
		if done {
			break
		}
		if !progress {
			found, err := tryPair(sparse, stripKnown, bits, invert, known)
			if err != nil {
				return tiledb.TileItem{}, err
			}
			if !found {
				return tiledb.TileItem{}, errors.NewDiffConflict("cannot resolve sparse field of width %d from %d values", width, len(sparse))
			}
		}
	}

	if i := slices.Index(known, false); i >= 0 {
		return tiledb.TileItem{}, errors.NewDiffConflict("sparse field bit %d never observed", i)
	}
	item := tiledb.NewBitVecItem(bits, invert)
	return item, item.Validate()
}

// tryPair learns one bit from two values that differ only in it
func tryPair(
	sparse []SparseDiff,
	stripKnown func(SparseDiff) (bitvec.BitVec, diff.Diff, error),
	bits []tiledb.TileBit, invert bitvec.BitVec, known []bool,
) (bool, error) {
	for _, a := range sparse {
		valA, diffA, err := stripKnown(a)
		if err != nil {
			return false, err
		}
		for _, b := range sparse {
			valB, diffB, err := stripKnown(b)
			if err != nil {
				return false, err
			}
			idx, ok := valA.Xor(valB).OneHot()
			if !ok {
				continue
			}
			if known[idx] {
				return false, errors.AssertionFailedf("pair resolution hit known bit %d", idx)
			}
			var d diff.Diff
			if valB[idx] {
				d, err = diff.Chain(diffB, diffA.Not())
			} else {
				d, err = diff.Chain(diffA, diffB.Not())
			}
			if err != nil {
				return false, err
			}
			tb, inv, err := singleBit(d)
			if err != nil {
				return false, errors.Wrapf(err, "values %s and %s", a.Value, b.Value)
			}
			bits[idx], invert[idx], known[idx] = tb, inv, true
			return true, nil
		}
	}
	return false, nil
}

// XlatBitVecSparseU32 is XlatBitVecSparse with integer values
func XlatBitVecSparseU32(numbered []NumberedDiff) (tiledb.TileItem, error) {
	var width int
	for _, n := range numbered {
		w := 0
		for n.Value>>w != 0 {
			w++
		}
		width = max(width, w)
	}
	sparse := make([]SparseDiff, len(numbered))
	for i, n := range numbered {
		sparse[i] = SparseDiff{Value: bitvec.FromUint(uint64(n.Value), width), Diff: n.Diff}
	}
	return XlatBitVecSparse(sparse)
}
