package tiledb

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/errors"
)

// dumpDoc is the human-readable form: tiles -> bel -> attr -> item
type dumpDoc struct {
	Tiles  map[string]map[string]map[string]dumpItem `yaml:"tiles"`
	Misc   map[string]string                         `yaml:"misc,omitempty"`
	Device map[string]map[string]string              `yaml:"device,omitempty"`
}

type dumpItem struct {
	Kind   string            `yaml:"kind"`
	Bits   []string          `yaml:"bits,flow"`
	Invert string            `yaml:"invert,omitempty"`
	Values map[string]string `yaml:"values,omitempty"`
}

// Dump renders db as YAML. Map keys are sorted, so equal databases dump identically.
func Dump(db *TileDb) ([]byte, error) {
	snap := db.snapshot()
	doc := dumpDoc{Tiles: make(map[string]map[string]map[string]dumpItem)}

	for key, item := range snap.items {
		bels, ok := doc.Tiles[key.Tile]
		if !ok {
			bels = make(map[string]map[string]dumpItem)
			doc.Tiles[key.Tile] = bels
		}
		attrs, ok := bels[key.Bel]
		if !ok {
			attrs = make(map[string]dumpItem)
			bels[key.Bel] = attrs
		}

		di := dumpItem{Kind: item.Kind.String(), Bits: make([]string, len(item.Bits))}
		for i, b := range item.Bits {
			di.Bits[i] = b.String()
		}
		switch item.Kind {
		case KindBitVec:
			di.Invert = item.Invert.String()
		case KindEnum:
			di.Values = make(map[string]string, len(item.Values))
			for label, v := range item.Values {
				di.Values[label] = v.String()
			}
		}
		attrs[key.Attr] = di
	}

	if len(snap.misc) > 0 {
		doc.Misc = make(map[string]string, len(snap.misc))
		for k, v := range snap.misc {
			doc.Misc[k] = v.String()
		}
	}
	if len(snap.device) > 0 {
		doc.Device = make(map[string]map[string]string, len(snap.device))
		for dev, table := range snap.device {
			vals := make(map[string]string, len(table))
			for k, v := range table {
				vals[k] = v.String()
			}
			doc.Device[dev] = vals
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render tile database dump")
	}
	return out, nil
}

// SaveDump writes the YAML dump of db to path
func SaveDump(path string, db *TileDb) error {
	out, err := Dump(db)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write dump %s", path)
	}
	return nil
}

// ParseDump reads a YAML dump back into a database
func ParseDump(data []byte) (*TileDb, error) {
	var doc dumpDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse tile database dump")
	}

	db := New()
	for tile, bels := range doc.Tiles {
		for bel, attrs := range bels {
			for attr, di := range attrs {
				item, err := di.toItem()
				if err != nil {
					return nil, errors.Wrapf(err, "dump item %s:%s:%s", tile, bel, attr)
				}
				if err := db.Insert(tile, bel, attr, item); err != nil {
					return nil, err
				}
			}
		}
	}
	for k, s := range doc.Misc {
		v, err := bitvec.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "dump misc %s", k)
		}
		if err := db.InsertMisc(k, v); err != nil {
			return nil, err
		}
	}
	for dev, table := range doc.Device {
		for k, s := range table {
			v, err := bitvec.Parse(s)
			if err != nil {
				return nil, errors.Wrapf(err, "dump device %s %s", dev, k)
			}
			if err := db.InsertDevice(dev, k, v); err != nil {
				return nil, err
			}
		}
	}
	return db, nil
}

func (di dumpItem) toItem() (TileItem, error) {
	bits := make([]TileBit, len(di.Bits))
	for i, s := range di.Bits {
		b, err := ParseTileBit(s)
		if err != nil {
			return TileItem{}, err
		}
		bits[i] = b
	}

	switch di.Kind {
	case KindBitVec.String():
		inv, err := bitvec.Parse(di.Invert)
		if err != nil {
			return TileItem{}, err
		}
		return NewBitVecItem(bits, inv), nil
	case KindEnum.String():
		values := make(map[string]bitvec.BitVec, len(di.Values))
		for label, s := range di.Values {
			v, err := bitvec.Parse(s)
			if err != nil {
				return TileItem{}, errors.Wrapf(err, "value %s", label)
			}
			values[label] = v
		}
		return NewEnumItem(bits, values), nil
	}
	return TileItem{}, errors.Newf("unknown item kind %q", di.Kind)
}
