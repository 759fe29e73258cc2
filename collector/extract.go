package collector

import (
	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

// ExtractCommonDiff removes the bits shared by every labeled diff and returns
// them. Shared bits must carry the same value everywhere.
func ExtractCommonDiff(labeled []Labeled) (diff.Diff, error) {
	if len(labeled) == 0 {
		return diff.Diff{}, nil
	}
	common := labeled[0].Diff.Clone()
	for _, l := range labeled[1:] {
		for _, b := range common.Bits() {
			if !l.Diff.Has(b) {
				common.Remove(b)
			}
		}
	}
	for i := range labeled {
		for _, b := range common.Bits() {
			want, _ := common.Get(b)
			got, _ := labeled[i].Diff.Remove(b)
			if got != want {
				return diff.Diff{}, errors.NewDiffConflict("common bit %s is %t for %s, %t elsewhere", b, got, labeled[i].Label, want)
			}
		}
	}
	return common, nil
}

// ExtractBitVecVal reads the value a known bitvec item takes in d, starting
// from base. Every bit of d must belong to the item and flip away from base.
func ExtractBitVecVal(item tiledb.TileItem, base bitvec.BitVec, d diff.Diff) (bitvec.BitVec, error) {
	res, err := extractBitVec(item, base, &d, true)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExtractBitVecValPart is ExtractBitVecVal that leaves bits outside the item in d
func ExtractBitVecValPart(item tiledb.TileItem, base bitvec.BitVec, d *diff.Diff) (bitvec.BitVec, error) {
	return extractBitVec(item, base, d, false)
}

func extractBitVec(item tiledb.TileItem, base bitvec.BitVec, d *diff.Diff, strict bool) (bitvec.BitVec, error) {
	if item.Kind != tiledb.KindBitVec {
		return nil, errors.AssertionFailedf("extracting a value from %s item", item.Kind)
	}
	if len(base) != len(item.Bits) {
		return nil, errors.AssertionFailedf("base width %d does not match item width %d", len(base), len(item.Bits))
	}

	idx := make(map[tiledb.TileBit]int, len(item.Bits))
	for i, b := range item.Bits {
		idx[b] = i
	}

	res := base.Clone()
	for _, b := range d.Bits() {
		i, ok := idx[b]
		if !ok {
			if strict {
				return nil, errors.WithDetailf(
					errors.NewUnexplainedBits("bit %s is not part of the field", b),
					"field: %s", tiledb.FormatBits(item.Bits),
				)
			}
			continue
		}
		v, _ := d.Remove(b)
		val := v != item.Invert[i]
		if res[i] == val {
			return nil, errors.NewDiffConflict("field bit %d (%s) already %t in the base value", i, b, val)
		}
		res[i] = val
	}
	return res, nil
}
