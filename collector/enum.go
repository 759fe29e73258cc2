package collector

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

// Labeled is the diff observed for one enum label
type Labeled struct {
	Label string
	Diff  diff.Diff
}

type orderKind uint8

const (
	orderValue orderKind = iota
	orderBit
	orderMux
	orderFixed
)

// Order selects how the bits of an enum item are laid out
type Order struct {
	kind  orderKind
	fixed []tiledb.TileBit
}

var (
	// ValueOrder sorts bits so that earlier labels read as larger values
	ValueOrder = Order{kind: orderValue}
	// BitOrder keeps bits in address order
	BitOrder = Order{kind: orderBit}
	// MuxOrder puts enable bits first, then one-hot groups (largest first)
	MuxOrder = Order{kind: orderMux}
)

// FixedOrder uses exactly the given bits in the given order
func FixedOrder(bits ...tiledb.TileBit) Order {
	return Order{kind: orderFixed, fixed: slices.Clone(bits)}
}

// ParseOrder reads an order name: value, bit or mux
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "value":
		return ValueOrder, nil
	case "bit":
		return BitOrder, nil
	case "mux":
		return MuxOrder, nil
	}
	return Order{}, errors.Newf("unknown enum order %q (want value, bit or mux)", s)
}

// String returns the order name
func (o Order) String() string {
	switch o.kind {
	case orderBit:
		return "bit"
	case orderMux:
		return "mux"
	case orderFixed:
		return fmt.Sprintf("fixed%s", tiledb.FormatBits(o.fixed))
	}
	return "value"
}

// XlatEnum translates labeled diffs into an enum item in value order
func XlatEnum(labeled []Labeled) (tiledb.TileItem, error) {
	return XlatEnumOrdered(labeled, ValueOrder)
}

// XlatEnumDefault adds an implicit label def with an empty diff before translating
func XlatEnumDefault(labeled []Labeled, def string) (tiledb.TileItem, error) {
	return XlatEnumDefaultOrdered(labeled, def, ValueOrder)
}

// XlatEnumDefaultOrdered is XlatEnumDefault with an explicit bit order
func XlatEnumDefaultOrdered(labeled []Labeled, def string, order Order) (tiledb.TileItem, error) {
	all := make([]Labeled, 0, len(labeled)+1)
	all = append(all, Labeled{Label: def})
	all = append(all, labeled...)
	return XlatEnumOrdered(all, order)
}

// XlatEnumOrdered translates labeled diffs into an enum item.
//
// The item covers the union of bits touched by any label. Each bit must flip
// the same way in every label that touches it. A label's pattern at a bit is
// the flipped value when its diff touches the bit and the baseline value
// otherwise. Two labels with non-empty diffs must not share a pattern.
func XlatEnumOrdered(labeled []Labeled, order Order) (tiledb.TileItem, error) {
	if len(labeled) == 0 {
		return tiledb.TileItem{}, errors.AssertionFailedf("enum with no labels")
	}

	pol := make(map[tiledb.TileBit]bool)
	for _, l := range labeled {
		for _, b := range l.Diff.Bits() {
			v, _ := l.Diff.Get(b)
			if cur, ok := pol[b]; ok && cur != v {
				return tiledb.TileItem{}, errors.WithDetailf(
					errors.NewDiffConflict("bit %s flips both ways across enum labels", b),
					"label %s flips it to %t", l.Label, v,
				)
			}
			pol[b] = v
		}
	}
	bits := slices.SortedFunc(maps.Keys(pol), tiledb.TileBit.Compare)

	pattern := func(d diff.Diff, layout []tiledb.TileBit) bitvec.BitVec {
		res := make(bitvec.BitVec, len(layout))
		for i, b := range layout {
			res[i] = pol[b] != !d.Has(b)
		}
		return res
	}

	switch order.kind {
	case orderFixed:
		for _, b := range order.fixed {
			if _, ok := pol[b]; !ok {
				return tiledb.TileItem{}, errors.NewDiffConflict("fixed-order bit %s is not touched by any label", b)
			}
		}
		if len(order.fixed) != len(bits) {
			return tiledb.TileItem{}, errors.WithDetailf(
				errors.NewDiffConflict("fixed order names %d bits, labels touch %d", len(order.fixed), len(bits)),
				"touched: %s", tiledb.FormatBits(bits),
			)
		}
		bits = slices.Clone(order.fixed)
	case orderValue, orderMux:
		slices.SortStableFunc(bits, func(a, b tiledb.TileBit) int {
			for _, l := range labeled {
				va := pol[a] != !l.Diff.Has(a)
				vb := pol[b] != !l.Diff.Has(b)
				if va != vb {
					if va {
						return -1
					}
					return 1
				}
			}
			return 0
		})
	}

	if order.kind == orderMux {
		var err error
		bits, err = muxOrder(labeled, bits, pattern)
		if err != nil {
			return tiledb.TileItem{}, err
		}
	}

	values := make(map[string]bitvec.BitVec, len(labeled))
	owner := make(map[string]string)
	for _, l := range labeled {
		v := pattern(l.Diff, bits)
		if cur, ok := values[l.Label]; ok {
			if !cur.Equal(v) {
				return tiledb.TileItem{}, errors.NewDiffConflict("label %s observed with patterns %s and %s", l.Label, cur, v)
			}
			continue
		}
		if !l.Diff.IsEmpty() {
			if other, ok := owner[v.String()]; ok {
				return tiledb.TileItem{}, errors.WithDetailf(
					errors.NewDiffConflict("labels %s and %s produce the same pattern", other, l.Label),
					"pattern %s over %s", v, tiledb.FormatBits(bits),
				)
			}
			owner[v.String()] = l.Label
		}
		values[l.Label] = v
	}

	item := tiledb.NewEnumItem(bits, values)
	return item, item.Validate()
}

// muxOrder lays out bits as enables, then one-hot groups largest first, then the rest
func muxOrder(labeled []Labeled, bits []tiledb.TileBit, pattern func(diff.Diff, []tiledb.TileBit) bitvec.BitVec) ([]tiledb.TileBit, error) {
	vals := make([]bitvec.BitVec, len(labeled))
	for i, l := range labeled {
		vals[i] = pattern(l.Diff, bits)
	}

	taken := make([]bool, len(bits))
	var enables []int
	var groups [][]int

	for start := range bits {
		if taken[start] {
			continue
		}
		group := []int{start}
		for next := start + 1; next < len(bits); next++ {
			if taken[next] {
				continue
			}
			disjoint := true
			for _, c := range group {
				for _, v := range vals {
					if v[next] && v[c] {
						disjoint = false
					}
				}
			}
			if disjoint {
				group = append(group, next)
			}
		}

		full := true
		for _, v := range vals {
			cnt := 0
			for _, b := range group {
				if v[b] {
					cnt++
				}
			}
			if cnt >= 2 {
				return nil, errors.AssertionFailedf("one-hot group %v has %d bits set", group, cnt)
			}
			if cnt == 0 && v.Any() {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		for _, b := range group {
			taken[b] = true
		}
		if len(group) == 1 {
			enables = append(enables, group[0])
		} else {
			groups = append(groups, group)
		}
	}
	slices.SortStableFunc(groups, func(a, b []int) int { return len(b) - len(a) })

	res := make([]tiledb.TileBit, 0, len(bits))
	for _, i := range enables {
		res = append(res, bits[i])
	}
	for _, g := range groups {
		for _, i := range g {
			res = append(res, bits[i])
		}
	}
	for i, b := range bits {
		if !taken[i] {
			res = append(res, b)
		}
	}
	return res, nil
}

// EnumSwapBits exchanges two positions of an enum item's layout and patterns
func EnumSwapBits(item *tiledb.TileItem, a, b int) error {
	if item.Kind != tiledb.KindEnum {
		return errors.AssertionFailedf("EnumSwapBits on %s item", item.Kind)
	}
	if a < 0 || b < 0 || a >= len(item.Bits) || b >= len(item.Bits) {
		return errors.AssertionFailedf("swap %d/%d out of range for %d bits", a, b, len(item.Bits))
	}
	item.Bits[a], item.Bits[b] = item.Bits[b], item.Bits[a]
	for _, v := range item.Values {
		v.Swap(a, b)
	}
	return nil
}
