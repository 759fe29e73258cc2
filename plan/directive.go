package plan

import (
	"strconv"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/collector"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
	"github.com/teranos/hammer/tiledb"
)

// Op names a collection routine
type Op string

const (
	OpBit               Op = "bit"
	OpBitWide           Op = "bit_wide"
	OpBitVec            Op = "bitvec"
	OpEnum              Op = "enum"
	OpEnumDefault       Op = "enum_default"
	OpEnumInt           Op = "enum_int"
	OpEnumBool          Op = "enum_bool"
	OpEnumBoolDefault   Op = "enum_bool_default"
	OpEnumBoolWide      Op = "enum_bool_wide"
	OpEnumBoolWideMixed Op = "enum_bool_wide_mixed"
	OpDeviceValue       Op = "device_value"
	OpMisc              Op = "misc"
	OpHold              Op = "hold"
	OpReleaseEmpty      Op = "release_empty"
)

// Ops lists every op in documentation order
var Ops = []Op{
	OpBit, OpBitWide, OpBitVec,
	OpEnum, OpEnumDefault, OpEnumInt,
	OpEnumBool, OpEnumBoolDefault, OpEnumBoolWide, OpEnumBoolWideMixed,
	OpDeviceValue, OpMisc, OpHold, OpReleaseEmpty,
}

// FieldRef names an already collected tile item
type FieldRef struct {
	Tile string `yaml:"tile"`
	Bel  string `yaml:"bel"`
	Attr string `yaml:"attr"`
}

// Directive is one collection step. Which fields apply depends on Op.
type Directive struct {
	Op      Op        `yaml:"op"`
	Tile    string    `yaml:"tile,omitempty"`
	Bel     string    `yaml:"bel,omitempty"`
	Attr    string    `yaml:"attr,omitempty"`
	Val     string    `yaml:"val,omitempty"`
	Vals    []string  `yaml:"vals,omitempty"`    // enum labels; [val0, val1] for enum_bool*
	Default string    `yaml:"default,omitempty"` // enum_default: implicit label
	Order   string    `yaml:"order,omitempty"`   // enum, enum_default: value, bit or mux
	From    uint32    `yaml:"from,omitempty"`    // enum_int: first value
	To      uint32    `yaml:"to,omitempty"`      // enum_int: one past the last value
	Delta   uint32    `yaml:"delta,omitempty"`   // enum_int: label offset
	Field   *FieldRef `yaml:"field,omitempty"`   // device_value
	Base    string    `yaml:"base,omitempty"`    // device_value: field value in the baseline
	Name    string    `yaml:"name,omitempty"`    // device_value fact name, misc key
	Value   string    `yaml:"value,omitempty"`   // misc: literal bit vector
	Misc    string    `yaml:"misc,omitempty"`    // enum_bool_default: misc key receiving the default
}

func (d Directive) key(val string) feature.Key {
	return feature.Key{Tile: d.Tile, Bel: d.Bel, Attr: d.Attr, Val: val}
}

// String identifies the directive in error messages
func (d Directive) String() string {
	name := d.Tile + ":" + d.Bel + ":" + d.Attr
	if d.Op == OpMisc {
		name = d.Name
	}
	return string(d.Op) + " " + name
}

// Keys returns the feature keys the directive consumes
func (d Directive) Keys() []feature.Key {
	switch d.Op {
	case OpBit, OpBitWide, OpBitVec, OpHold, OpReleaseEmpty, OpDeviceValue:
		return []feature.Key{d.key(d.Val)}
	case OpEnum, OpEnumDefault, OpEnumBool, OpEnumBoolDefault, OpEnumBoolWide, OpEnumBoolWideMixed:
		keys := make([]feature.Key, len(d.Vals))
		for i, v := range d.Vals {
			keys[i] = d.key(v)
		}
		return keys
	case OpEnumInt:
		var keys []feature.Key
		for n := d.From; n < d.To; n++ {
			keys = append(keys, d.key(strconv.FormatUint(uint64(n+d.Delta), 10)))
		}
		return keys
	}
	return nil
}

// Validate checks the fields the op needs
func (d Directive) Validate() error {
	if d.Op == OpMisc {
		if d.Name == "" {
			return errors.New("misc needs a name")
		}
		if _, err := bitvec.Parse(d.Value); err != nil || d.Value == "" {
			return errors.Newf("misc %s needs a 0/1 value, got %q", d.Name, d.Value)
		}
		return nil
	}
	if d.Tile == "" || d.Bel == "" || d.Attr == "" {
		return errors.Newf("%s needs tile, bel and attr", d.Op)
	}

	switch d.Op {
	case OpBit, OpBitWide, OpBitVec, OpHold, OpReleaseEmpty:
		return nil
	case OpEnum, OpEnumDefault:
		if len(d.Vals) == 0 {
			return errors.Newf("%s needs vals", d)
		}
		if d.Op == OpEnumDefault && d.Default == "" {
			return errors.Newf("%s needs a default label", d)
		}
		if _, err := collector.ParseOrder(d.Order); err != nil {
			return errors.Wrapf(err, "%s", d)
		}
		return nil
	case OpEnumInt:
		if d.To <= d.From {
			return errors.Newf("%s needs from < to, got [%d, %d)", d, d.From, d.To)
		}
		if err := collector.CheckEnumIntRange(d.From, d.To, d.Delta); err != nil {
			return errors.Wrapf(err, "%s", d)
		}
		return nil
	case OpEnumBool, OpEnumBoolDefault, OpEnumBoolWide, OpEnumBoolWideMixed:
		if len(d.Vals) != 2 {
			return errors.Newf("%s needs exactly two vals, got %d", d, len(d.Vals))
		}
		return nil
	case OpDeviceValue:
		if d.Field == nil || d.Field.Tile == "" || d.Field.Bel == "" || d.Field.Attr == "" {
			return errors.Newf("%s needs a field", d)
		}
		if d.Name == "" {
			return errors.Newf("%s needs a name", d)
		}
		if _, err := bitvec.Parse(d.Base); err != nil {
			return errors.Wrapf(err, "%s base", d)
		}
		return nil
	}
	return errors.Newf("unknown collect op %q", d.Op)
}

// Apply runs the directive against c
func (d Directive) Apply(c *collector.Collector) error {
	switch d.Op {
	case OpBit:
		return c.CollectBit(d.Tile, d.Bel, d.Attr, d.Val)
	case OpBitWide:
		return c.CollectBitWide(d.Tile, d.Bel, d.Attr, d.Val)
	case OpBitVec:
		return c.CollectBitVec(d.Tile, d.Bel, d.Attr, d.Val)
	case OpEnum:
		order, err := collector.ParseOrder(d.Order)
		if err != nil {
			return err
		}
		return c.CollectEnumOrdered(d.Tile, d.Bel, d.Attr, d.Vals, order)
	case OpEnumDefault:
		order, err := collector.ParseOrder(d.Order)
		if err != nil {
			return err
		}
		return c.CollectEnumDefaultOrdered(d.Tile, d.Bel, d.Attr, d.Vals, d.Default, order)
	case OpEnumInt:
		return c.CollectEnumInt(d.Tile, d.Bel, d.Attr, d.From, d.To, d.Delta)
	case OpEnumBool:
		return c.CollectEnumBool(d.Tile, d.Bel, d.Attr, d.Vals[0], d.Vals[1])
	case OpEnumBoolDefault:
		def, err := c.CollectEnumBoolDefault(d.Tile, d.Bel, d.Attr, d.Vals[0], d.Vals[1])
		if err != nil {
			return err
		}
		if d.Misc != "" {
			return c.InsertMisc(d.Misc, bitvec.BitVec{def})
		}
		return nil
	case OpEnumBoolWide:
		return c.CollectEnumBoolWide(d.Tile, d.Bel, d.Attr, d.Vals[0], d.Vals[1])
	case OpEnumBoolWideMixed:
		return c.CollectEnumBoolWideMixed(d.Tile, d.Bel, d.Attr, d.Vals[0], d.Vals[1])
	case OpDeviceValue:
		base, err := bitvec.Parse(d.Base)
		if err != nil {
			return err
		}
		field := tiledb.Key{Tile: d.Field.Tile, Bel: d.Field.Bel, Attr: d.Field.Attr}
		return c.CollectDeviceValue(field, base, d.key(d.Val), d.Name)
	case OpMisc:
		val, err := bitvec.Parse(d.Value)
		if err != nil {
			return err
		}
		return c.InsertMisc(d.Name, val)
	case OpHold:
		return c.HoldFeature(d.key(d.Val))
	case OpReleaseEmpty:
		return c.ReleaseEmpty(d.Tile, d.key(d.Val).String())
	}
	return errors.AssertionFailedf("unknown collect op %q", d.Op)
}
