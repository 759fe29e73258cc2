package collector

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
	"github.com/teranos/hammer/logger"
	"github.com/teranos/hammer/tiledb"
)

// Collector classifies the diffs of one session run into a tile database.
//
// Diffs taken with Get are consumed. Diffs parked with Hold lose the bits of
// every item later inserted for the same tile; Finish fails if any held or
// unconsumed diff still carries bits.
type Collector struct {
	state  *feature.State
	db     *tiledb.TileDb
	device string
	log    *zap.SugaredLogger

	mu   sync.Mutex
	held map[string]map[string]*diff.Diff // tile -> name -> pending diff
}

// New creates a collector reading from state and writing to db. device names
// the part whose per-device facts InsertDeviceData records.
func New(state *feature.State, db *tiledb.TileDb, device string, log *zap.SugaredLogger) *Collector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Collector{
		state:  state,
		db:     db,
		device: device,
		log:    log.Named("collector"),
		held:   make(map[string]map[string]*diff.Diff),
	}
}

// DB returns the database being populated
func (c *Collector) DB() *tiledb.TileDb {
	return c.db
}

func key(tile, bel, attr, val string) feature.Key {
	return feature.Key{Tile: tile, Bel: bel, Attr: attr, Val: val}
}

// Get consumes the single diff of a feature
func (c *Collector) Get(tile, bel, attr, val string) (diff.Diff, error) {
	return c.state.GetDiff(key(tile, bel, attr, val))
}

// GetDiffs consumes every diff of a feature
func (c *Collector) GetDiffs(tile, bel, attr, val string) ([]diff.Diff, error) {
	return c.state.GetDiffs(key(tile, bel, attr, val))
}

// Peek returns a copy of the single diff of a feature without consuming it
func (c *Collector) Peek(tile, bel, attr, val string) (diff.Diff, error) {
	return c.state.PeekDiff(key(tile, bel, attr, val))
}

func (c *Collector) getLabeled(tile, bel, attr string, vals []string) ([]Labeled, error) {
	labeled := make([]Labeled, 0, len(vals))
	for _, v := range vals {
		d, err := c.Get(tile, bel, attr, v)
		if err != nil {
			return nil, err
		}
		labeled = append(labeled, Labeled{Label: v, Diff: d})
	}
	return labeled, nil
}

// Insert stores item and discards its bits from every diff held for tile
func (c *Collector) Insert(tile, bel, attr string, item tiledb.TileItem) error {
	if err := c.db.Insert(tile, bel, attr, item); err != nil {
		return err
	}

	c.mu.Lock()
	for _, d := range c.held[tile] {
		d.DiscardBits(item)
	}
	c.mu.Unlock()

	c.log.Debugw("Inserted tile item",
		logger.FieldFeature, fmt.Sprintf("%s:%s:%s", tile, bel, attr),
		"kind", item.Kind.String(),
		logger.FieldBits, len(item.Bits))
	return nil
}

// InsertMisc stores a family-wide fact
func (c *Collector) InsertMisc(k string, val bitvec.BitVec) error {
	return c.db.InsertMisc(k, val)
}

// InsertDeviceData stores a fact of the collector's device
func (c *Collector) InsertDeviceData(k string, val bitvec.BitVec) error {
	if c.device == "" {
		return errors.AssertionFailedf("device fact %s recorded without a device", k)
	}
	return c.db.InsertDevice(c.device, k, val)
}

func (c *Collector) collect(tile, bel, attr string, item tiledb.TileItem, err error) error {
	if err != nil {
		return errors.Wrapf(err, "collecting %s:%s:%s", tile, bel, attr)
	}
	return c.Insert(tile, bel, attr, item)
}

// ExtractBit classifies a single-bit feature
func (c *Collector) ExtractBit(tile, bel, attr, val string) (tiledb.TileItem, error) {
	d, err := c.Get(tile, bel, attr, val)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return XlatBit(d)
}

// CollectBit classifies and stores a single-bit feature
func (c *Collector) CollectBit(tile, bel, attr, val string) error {
	item, err := c.ExtractBit(tile, bel, attr, val)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractBitWide classifies a feature whose bits all encode one boolean
func (c *Collector) ExtractBitWide(tile, bel, attr, val string) (tiledb.TileItem, error) {
	d, err := c.Get(tile, bel, attr, val)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return XlatBitWide(d)
}

// CollectBitWide classifies and stores a wide boolean feature
func (c *Collector) CollectBitWide(tile, bel, attr, val string) error {
	item, err := c.ExtractBitWide(tile, bel, attr, val)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractBitVec classifies a multi-recipe feature, one diff per field bit
func (c *Collector) ExtractBitVec(tile, bel, attr, val string) (tiledb.TileItem, error) {
	diffs, err := c.GetDiffs(tile, bel, attr, val)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return XlatBitVec(diffs)
}

// CollectBitVec classifies and stores a bit-vector feature
func (c *Collector) CollectBitVec(tile, bel, attr, val string) error {
	item, err := c.ExtractBitVec(tile, bel, attr, val)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractEnum classifies an enum whose labels are vals
func (c *Collector) ExtractEnum(tile, bel, attr string, vals []string) (tiledb.TileItem, error) {
	return c.ExtractEnumOrdered(tile, bel, attr, vals, ValueOrder)
}

// ExtractEnumOrdered is ExtractEnum with an explicit bit order
func (c *Collector) ExtractEnumOrdered(tile, bel, attr string, vals []string, order Order) (tiledb.TileItem, error) {
	labeled, err := c.getLabeled(tile, bel, attr, vals)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return XlatEnumOrdered(labeled, order)
}

// CollectEnum classifies and stores an enum
func (c *Collector) CollectEnum(tile, bel, attr string, vals []string) error {
	item, err := c.ExtractEnum(tile, bel, attr, vals)
	return c.collect(tile, bel, attr, item, err)
}

// CollectEnumOrdered classifies and stores an enum with an explicit bit order
func (c *Collector) CollectEnumOrdered(tile, bel, attr string, vals []string, order Order) error {
	item, err := c.ExtractEnumOrdered(tile, bel, attr, vals, order)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractEnumDefault classifies an enum with an implicit label def encoded as the baseline
func (c *Collector) ExtractEnumDefault(tile, bel, attr string, vals []string, def string, order Order) (tiledb.TileItem, error) {
	labeled, err := c.getLabeled(tile, bel, attr, vals)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	return XlatEnumDefaultOrdered(labeled, def, order)
}

// CollectEnumDefault classifies and stores an enum with an implicit default label
func (c *Collector) CollectEnumDefault(tile, bel, attr string, vals []string, def string) error {
	item, err := c.ExtractEnumDefault(tile, bel, attr, vals, def, ValueOrder)
	return c.collect(tile, bel, attr, item, err)
}

// CollectEnumDefaultOrdered is CollectEnumDefault with an explicit bit order
func (c *Collector) CollectEnumDefaultOrdered(tile, bel, attr string, vals []string, def string, order Order) error {
	item, err := c.ExtractEnumDefault(tile, bel, attr, vals, def, order)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractEnumInt classifies a numeric attribute sampled at values [from, to).
// The feature for value n is labeled n+delta.
func (c *Collector) ExtractEnumInt(tile, bel, attr string, from, to, delta uint32) (tiledb.TileItem, error) {
	if err := CheckEnumIntRange(from, to, delta); err != nil {
		return tiledb.TileItem{}, errors.WithAssertionFailure(err)
	}
	numbered := make([]NumberedDiff, 0, to-from)
	for n := from; n < to; n++ {
		d, err := c.Get(tile, bel, attr, fmt.Sprintf("%d", n+delta))
		if err != nil {
			return tiledb.TileItem{}, err
		}
		numbered = append(numbered, NumberedDiff{Value: n, Diff: d})
	}
	return XlatEnumInt(numbered)
}

// MaxEnumIntValues bounds how many values one numeric attribute can span
const MaxEnumIntValues = 1 << 16

// CheckEnumIntRange checks that [from, to) is non-empty and no wider than
// MaxEnumIntValues, and that the largest label to-1+delta fits a uint32
func CheckEnumIntRange(from, to, delta uint32) error {
	if to <= from {
		return errors.Newf("empty value range [%d, %d)", from, to)
	}
	if to-from > MaxEnumIntValues {
		return errors.Newf("value range [%d, %d) spans more than %d values", from, to, MaxEnumIntValues)
	}
	if uint64(to-1)+uint64(delta) > math.MaxUint32 {
		return errors.Newf("value label %d+%d overflows uint32", to-1, delta)
	}
	return nil
}

// CollectEnumInt classifies and stores a numeric attribute
func (c *Collector) CollectEnumInt(tile, bel, attr string, from, to, delta uint32) error {
	item, err := c.ExtractEnumInt(tile, bel, attr, from, to, delta)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractEnumBoolDefault classifies a two-valued attribute whose baseline is one of the values
func (c *Collector) ExtractEnumBoolDefault(tile, bel, attr, val0, val1 string) (tiledb.TileItem, bool, error) {
	d0, err := c.Get(tile, bel, attr, val0)
	if err != nil {
		return tiledb.TileItem{}, false, err
	}
	d1, err := c.Get(tile, bel, attr, val1)
	if err != nil {
		return tiledb.TileItem{}, false, err
	}
	return XlatBoolDefault(d0, d1)
}

// ExtractEnumBool is ExtractEnumBoolDefault without the default
func (c *Collector) ExtractEnumBool(tile, bel, attr, val0, val1 string) (tiledb.TileItem, error) {
	item, _, err := c.ExtractEnumBoolDefault(tile, bel, attr, val0, val1)
	return item, err
}

// CollectEnumBool classifies and stores a two-valued attribute
func (c *Collector) CollectEnumBool(tile, bel, attr, val0, val1 string) error {
	item, err := c.ExtractEnumBool(tile, bel, attr, val0, val1)
	return c.collect(tile, bel, attr, item, err)
}

// CollectEnumBoolDefault stores a two-valued attribute and reports whether the baseline is val1
func (c *Collector) CollectEnumBoolDefault(tile, bel, attr, val0, val1 string) (bool, error) {
	item, def, xerr := c.ExtractEnumBoolDefault(tile, bel, attr, val0, val1)
	if err := c.collect(tile, bel, attr, item, xerr); err != nil {
		return false, err
	}
	return def, nil
}

func (c *Collector) extractBoolPair(tile, bel, attr, val0, val1 string) (tiledb.TileItem, bitvec.BitVec, bitvec.BitVec, error) {
	d0, err := c.Get(tile, bel, attr, val0)
	if err != nil {
		return tiledb.TileItem{}, nil, nil, err
	}
	d1, err := c.Get(tile, bel, attr, val1)
	if err != nil {
		return tiledb.TileItem{}, nil, nil, err
	}
	item, err := XlatEnum([]Labeled{{Label: "0", Diff: d0}, {Label: "1", Diff: d1}})
	if err != nil {
		return tiledb.TileItem{}, nil, nil, err
	}
	return item, item.Values["0"], item.Values["1"], nil
}

// ExtractEnumBoolWide classifies a two-valued attribute spread over several
// bits that all move together
func (c *Collector) ExtractEnumBoolWide(tile, bel, attr, val0, val1 string) (tiledb.TileItem, error) {
	item, v0, v1, err := c.extractBoolPair(tile, bel, attr, val0, val1)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	var invert bool
	switch {
	case v1.All() && !v0.Any():
		invert = false
	case v0.All() && !v1.Any():
		invert = true
	default:
		return tiledb.TileItem{}, errors.NewDiffConflict("%s:%s:%s is not a wide boolean: %s=%s %s=%s", tile, bel, attr, val0, v0, val1, v1)
	}
	return tiledb.NewBitVecItem(item.Bits, bitvec.Repeat(invert, len(item.Bits))), nil
}

// CollectEnumBoolWide classifies and stores a wide two-valued attribute
func (c *Collector) CollectEnumBoolWide(tile, bel, attr, val0, val1 string) error {
	item, err := c.ExtractEnumBoolWide(tile, bel, attr, val0, val1)
	return c.collect(tile, bel, attr, item, err)
}

// ExtractEnumBoolWideMixed is ExtractEnumBoolWide where bits may have mixed polarity
func (c *Collector) ExtractEnumBoolWideMixed(tile, bel, attr, val0, val1 string) (tiledb.TileItem, error) {
	item, v0, v1, err := c.extractBoolPair(tile, bel, attr, val0, val1)
	if err != nil {
		return tiledb.TileItem{}, err
	}
	if !v0.Equal(v1.Not()) {
		return tiledb.TileItem{}, errors.NewDiffConflict("%s:%s:%s values are not complementary: %s=%s %s=%s", tile, bel, attr, val0, v0, val1, v1)
	}
	return tiledb.NewBitVecItem(item.Bits, v0.Clone()), nil
}

// CollectEnumBoolWideMixed classifies and stores a mixed-polarity wide two-valued attribute
func (c *Collector) CollectEnumBoolWideMixed(tile, bel, attr, val0, val1 string) error {
	item, err := c.ExtractEnumBoolWideMixed(tile, bel, attr, val0, val1)
	return c.collect(tile, bel, attr, item, err)
}

// CollectDeviceValue reads the value the already-classified field takes in a
// feature's diff and stores it as device fact name.
func (c *Collector) CollectDeviceValue(field tiledb.Key, base bitvec.BitVec, k feature.Key, name string) error {
	item, ok := c.db.Item(field.Tile, field.Bel, field.Attr)
	if !ok {
		return errors.NewNotFoundError("field %s", field)
	}
	d, err := c.state.GetDiff(k)
	if err != nil {
		return err
	}
	val, err := ExtractBitVecVal(item, base, d)
	if err != nil {
		return errors.Wrapf(err, "device value %s from %s", name, k)
	}
	return c.InsertDeviceData(name, val)
}

// Hold parks a diff for tile under name until the rest of the tile's items are inserted
func (c *Collector) Hold(tile, name string, d diff.Diff) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.held[tile]
	if !ok {
		table = make(map[string]*diff.Diff)
		c.held[tile] = table
	}
	if _, dup := table[name]; dup {
		return errors.AssertionFailedf("diff %s already held for tile %s", name, tile)
	}
	cp := d.Clone()
	table[name] = &cp
	return nil
}

// HoldFeature consumes a feature's diff and holds it under the feature key
func (c *Collector) HoldFeature(k feature.Key) error {
	d, err := c.state.GetDiff(k)
	if err != nil {
		return err
	}
	return c.Hold(k.Tile, k.String(), d)
}

// Release returns what is left of a held diff and stops tracking it
func (c *Collector) Release(tile, name string) (diff.Diff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.held[tile][name]
	if !ok {
		return diff.Diff{}, errors.NewNotFoundError("held diff %s for tile %s", name, tile)
	}
	delete(c.held[tile], name)
	if len(c.held[tile]) == 0 {
		delete(c.held, tile)
	}
	return *d, nil
}

// ReleaseEmpty releases a held diff and fails if any bit is left in it
func (c *Collector) ReleaseEmpty(tile, name string) error {
	d, err := c.Release(tile, name)
	if err != nil {
		return err
	}
	if err := d.AssertEmpty(); err != nil {
		return errors.Wrapf(err, "held diff %s for tile %s", name, tile)
	}
	return nil
}

// Finish checks that every held and unconsumed diff is fully explained
func (c *Collector) Finish() error {
	var problems []string

	c.mu.Lock()
	for _, tile := range slices.Sorted(maps.Keys(c.held)) {
		table := c.held[tile]
		for _, name := range slices.Sorted(maps.Keys(table)) {
			if d := table[name]; !d.IsEmpty() {
				problems = append(problems, fmt.Sprintf("held %s (tile %s): %s", name, tile, d))
			}
		}
	}
	c.mu.Unlock()

	for _, k := range c.state.Remaining() {
		diffs, err := c.state.PeekDiffs(k)
		if err != nil {
			return err
		}
		var parts []string
		for _, d := range diffs {
			parts = append(parts, d.String())
		}
		problems = append(problems, fmt.Sprintf("unclassified %s: %s", k, strings.Join(parts, " ")))
	}

	if len(problems) == 0 {
		return nil
	}
	c.log.Warnw("Collection left unexplained bits", logger.FieldCount, len(problems))
	return errors.WithDetail(
		errors.NewUnexplainedBits("%d diff(s) not fully explained", len(problems)),
		strings.Join(problems, "\n"),
	)
}
