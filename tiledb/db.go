package tiledb

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/errors"
)

// Key identifies a tile item
type Key struct {
	Tile string
	Bel  string
	Attr string
}

// String formats the key as tile:bel:attr
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Tile, k.Bel, k.Attr)
}

// Compare orders keys by tile, bel, attr
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Tile, o.Tile); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Bel, o.Bel); c != 0 {
		return c
	}
	return cmp.Compare(k.Attr, o.Attr)
}

// TileDb is the knowledge base for one device family. Safe for concurrent use.
//
// Inserts are idempotent-or-fatal: inserting a value equal to the stored one is a
// no-op, inserting a different value returns a DuplicateKeyMismatch error.
type TileDb struct {
	mu     sync.RWMutex
	items  map[Key]TileItem
	misc   map[string]bitvec.BitVec
	device map[string]map[string]bitvec.BitVec
}

// New creates an empty database
func New() *TileDb {
	return &TileDb{
		items:  make(map[Key]TileItem),
		misc:   make(map[string]bitvec.BitVec),
		device: make(map[string]map[string]bitvec.BitVec),
	}
}

// Insert stores item under (tile, bel, attr)
func (db *TileDb) Insert(tile, bel, attr string, item TileItem) error {
	if err := item.Validate(); err != nil {
		return errors.Wrapf(err, "invalid item for %s:%s:%s", tile, bel, attr)
	}
	key := Key{Tile: tile, Bel: bel, Attr: attr}

	db.mu.Lock()
	defer db.mu.Unlock()
	return db.insertLocked(key, item)
}

func (db *TileDb) insertLocked(key Key, item TileItem) error {
	if cur, ok := db.items[key]; ok {
		if cur.Equal(item) {
			return nil
		}
		return errors.WithDetailf(
			errors.NewDuplicateKeyMismatch("item %s already stored with a different value", key),
			"stored: %s\ncomputed: %s", describeItem(cur), describeItem(item),
		)
	}
	db.items[key] = item.Clone()
	return nil
}

// Item returns the item stored under (tile, bel, attr)
func (db *TileDb) Item(tile, bel, attr string) (TileItem, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	item, ok := db.items[Key{Tile: tile, Bel: bel, Attr: attr}]
	if !ok {
		return TileItem{}, false
	}
	return item.Clone(), true
}

// InsertMisc stores a family-wide scalar fact
func (db *TileDb) InsertMisc(key string, val bitvec.BitVec) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return insertValue(db.misc, key, val, "misc "+key)
}

// Misc returns a family-wide scalar fact
func (db *TileDb) Misc(key string) (bitvec.BitVec, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.misc[key]
	return v.Clone(), ok
}

// InsertDevice stores a per-part scalar fact
func (db *TileDb) InsertDevice(device, key string, val bitvec.BitVec) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.insertDeviceLocked(device, key, val)
}

func (db *TileDb) insertDeviceLocked(device, key string, val bitvec.BitVec) error {
	table, ok := db.device[device]
	if !ok {
		table = make(map[string]bitvec.BitVec)
		db.device[device] = table
	}
	return insertValue(table, key, val, "device "+device+" "+key)
}

// Device returns a per-part scalar fact
func (db *TileDb) Device(device, key string) (bitvec.BitVec, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.device[device][key]
	return v.Clone(), ok
}

func insertValue(table map[string]bitvec.BitVec, key string, val bitvec.BitVec, what string) error {
	if cur, ok := table[key]; ok {
		if cur.Equal(val) {
			return nil
		}
		return errors.NewDuplicateKeyMismatch("%s already stored as %s, computed %s", what, cur, val)
	}
	table[key] = val.Clone()
	return nil
}

// Merge inserts every entry of other into db. Conflicting entries abort the merge
// with a DuplicateKeyMismatch; entries merged before the conflict stay in db.
func (db *TileDb) Merge(other *TileDb) error {
	if other == db {
		return nil
	}
	snap := other.snapshot()

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, key := range sortedKeys(snap.items) {
		if err := db.insertLocked(key, snap.items[key]); err != nil {
			return err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(snap.misc)) {
		if err := insertValue(db.misc, key, snap.misc[key], "misc "+key); err != nil {
			return err
		}
	}
	for _, dev := range slices.Sorted(maps.Keys(snap.device)) {
		table := snap.device[dev]
		for _, key := range slices.Sorted(maps.Keys(table)) {
			if err := db.insertDeviceLocked(dev, key, table[key]); err != nil {
				return err
			}
		}
	}
	return nil
}

// snapshot copies the tables under the read lock
func (db *TileDb) snapshot() *TileDb {
	db.mu.RLock()
	defer db.mu.RUnlock()
	res := New()
	for k, v := range db.items {
		res.items[k] = v.Clone()
	}
	for k, v := range db.misc {
		res.misc[k] = v.Clone()
	}
	for dev, table := range db.device {
		cp := make(map[string]bitvec.BitVec, len(table))
		for k, v := range table {
			cp[k] = v.Clone()
		}
		res.device[dev] = cp
	}
	return res
}

// Keys returns all item keys in sorted order
func (db *TileDb) Keys() []Key {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return sortedKeys(db.items)
}

// MiscKeys returns all misc keys in sorted order
func (db *TileDb) MiscKeys() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Sorted(maps.Keys(db.misc))
}

// Devices returns the names of devices with stored facts, sorted
func (db *TileDb) Devices() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Sorted(maps.Keys(db.device))
}

// DeviceKeys returns the sorted fact keys of one device
func (db *TileDb) DeviceKeys(device string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Sorted(maps.Keys(db.device[device]))
}

// Len returns the number of items
func (db *TileDb) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.items)
}

// Equal reports whether both databases hold the same items and facts
func (db *TileDb) Equal(o *TileDb) bool {
	if db == o {
		return true
	}
	a, b := db.snapshot(), o.snapshot()

	if !maps.EqualFunc(a.items, b.items, TileItem.Equal) {
		return false
	}
	if !maps.EqualFunc(a.misc, b.misc, bitvec.BitVec.Equal) {
		return false
	}
	return maps.EqualFunc(a.device, b.device, func(x, y map[string]bitvec.BitVec) bool {
		return maps.EqualFunc(x, y, bitvec.BitVec.Equal)
	})
}

func sortedKeys(items map[Key]TileItem) []Key {
	return slices.SortedFunc(maps.Keys(items), Key.Compare)
}

func describeItem(it TileItem) string {
	switch it.Kind {
	case KindBitVec:
		return fmt.Sprintf("bitvec %s invert %s", FormatBits(it.Bits), it.Invert)
	case KindEnum:
		s := fmt.Sprintf("enum %s", FormatBits(it.Bits))
		for _, label := range it.Labels() {
			s += fmt.Sprintf(" %s=%s", label, it.Values[label])
		}
		return s
	}
	return "unknown"
}
