package tiledb

import (
	"encoding/binary"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/errors"
)

func bv(s string) bitvec.BitVec {
	v, err := bitvec.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func sampleDb(t *testing.T) *TileDb {
	t.Helper()
	db := New()
	require.NoError(t, db.Insert("CLB", "SLICE0", "FFX_INIT",
		NewBitVecItem([]TileBit{NewTileBit(0, 3, 7)}, bv("1"))))
	require.NoError(t, db.Insert("CLB", "SLICE0", "LUT_MODE",
		NewEnumItem([]TileBit{NewTileBit(0, 1, 0), NewTileBit(0, 1, 1)}, map[string]bitvec.BitVec{
			"A": bv("10"),
			"B": bv("01"),
			"C": bv("00"),
		})))
	require.NoError(t, db.Insert("IOB", "IOB0", "DRIVE",
		NewBitVecItem([]TileBit{NewTileBit(1, 0, 4), NewTileBit(1, 0, 5), NewTileBit(1, 2, 0)}, bv("010"))))
	require.NoError(t, db.InsertMisc("STARTUP_CYCLES", bv("0110")))
	require.NoError(t, db.InsertDevice("xc2s50", "IDCODE_EXT", bv("1011")))
	return db
}

func TestTileBitFormatParse(t *testing.T) {
	b := NewTileBit(2, 15, 63)
	assert.Equal(t, "2.15.63", b.String())

	parsed, err := ParseTileBit("2.15.63")
	require.NoError(t, err)
	assert.Equal(t, b, parsed)

	for _, bad := range []string{"", "1.2", "1.2.3.4", "a.b.c", "1.-2.3", "5000000000.0.0", "0.4294967296.0"} {
		_, err := ParseTileBit(bad)
		assert.Error(t, err, bad)
	}
}

func TestTileBitOrder(t *testing.T) {
	bits := []TileBit{
		NewTileBit(1, 0, 0),
		NewTileBit(0, 2, 1),
		NewTileBit(0, 2, 0),
		NewTileBit(0, 1, 9),
	}
	slices.SortFunc(bits, TileBit.Compare)
	assert.Equal(t, "[0.1.9 0.2.0 0.2.1 1.0.0]", FormatBits(bits))
	assert.True(t, bits[0].Less(bits[1]))
}

func TestItemValidate(t *testing.T) {
	b0, b1 := NewTileBit(0, 0, 0), NewTileBit(0, 0, 1)
	tests := []struct {
		name string
		item TileItem
		ok   bool
	}{
		{"bool", NewBitVecItem([]TileBit{b0}, bv("0")), true},
		{"invert length", NewBitVecItem([]TileBit{b0, b1}, bv("0")), false},
		{"duplicate bit", NewBitVecItem([]TileBit{b0, b0}, bv("00")), false},
		{"frame out of range", NewBitVecItem([]TileBit{{Frame: MaxCoord + 1}}, bv("0")), false},
		{"negative bit", NewBitVecItem([]TileBit{{Bit: -1}}, bv("0")), false},
		{"enum", NewEnumItem([]TileBit{b0}, map[string]bitvec.BitVec{"ON": bv("1"), "OFF": bv("0")}), true},
		{"enum without values", NewEnumItem([]TileBit{b0}, nil), false},
		{"enum value width", NewEnumItem([]TileBit{b0}, map[string]bitvec.BitVec{"ON": bv("11")}), false},
		{"unknown kind", TileItem{Kind: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestInsertIdempotentOrFatal(t *testing.T) {
	db := New()
	item := NewBitVecItem([]TileBit{NewTileBit(0, 3, 7)}, bv("0"))

	require.NoError(t, db.Insert("CLB", "SLICE0", "INV", item))
	require.NoError(t, db.Insert("CLB", "SLICE0", "INV", item.Clone()))
	assert.Equal(t, 1, db.Len())

	other := NewBitVecItem([]TileBit{NewTileBit(0, 3, 7)}, bv("1"))
	err := db.Insert("CLB", "SLICE0", "INV", other)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateKeyMismatch(err))
	assert.Contains(t, errors.FlattenDetails(err), "invert 0")

	got, ok := db.Item("CLB", "SLICE0", "INV")
	require.True(t, ok)
	assert.True(t, got.Equal(item), "stored item must not be overwritten")
}

func TestInsertCopiesItem(t *testing.T) {
	db := New()
	item := NewBitVecItem([]TileBit{NewTileBit(0, 0, 0)}, bv("0"))
	require.NoError(t, db.Insert("T", "B", "A", item))
	item.Invert[0] = true

	got, _ := db.Item("T", "B", "A")
	assert.Equal(t, "0", got.Invert.String())
}

func TestMiscAndDeviceTables(t *testing.T) {
	db := New()
	require.NoError(t, db.InsertMisc("K", bv("01")))
	require.NoError(t, db.InsertMisc("K", bv("01")))
	assert.True(t, errors.IsDuplicateKeyMismatch(db.InsertMisc("K", bv("11"))))

	require.NoError(t, db.InsertDevice("xc2s15", "K", bv("1")))
	require.NoError(t, db.InsertDevice("xc2s50", "K", bv("0")))
	assert.True(t, errors.IsDuplicateKeyMismatch(db.InsertDevice("xc2s15", "K", bv("0"))))

	v, ok := db.Device("xc2s50", "K")
	require.True(t, ok)
	assert.Equal(t, "0", v.String())
	_, ok = db.Device("xc2s100", "K")
	assert.False(t, ok)
	assert.Equal(t, []string{"xc2s15", "xc2s50"}, db.Devices())
	assert.Equal(t, []string{"K"}, db.MiscKeys())
}

func TestMerge(t *testing.T) {
	a := sampleDb(t)
	b := New()
	require.NoError(t, b.Insert("BRAM", "BRAM", "WIDTH",
		NewBitVecItem([]TileBit{NewTileBit(0, 0, 0)}, bv("0"))))
	require.NoError(t, b.InsertDevice("xc2s100", "IDCODE_EXT", bv("0001")))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 4, a.Len())
	require.NoError(t, a.Merge(sampleDb(t)), "merging equal content is a no-op")

	c := New()
	require.NoError(t, c.InsertMisc("STARTUP_CYCLES", bv("1111")))
	err := a.Merge(c)
	assert.True(t, errors.IsDuplicateKeyMismatch(err))
}

func TestConcurrentInsert(t *testing.T) {
	db := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := NewBitVecItem([]TileBit{NewTileBit(0, i, 0)}, bv("0"))
			assert.NoError(t, db.Insert("T", "B", "SHARED", NewBitVecItem([]TileBit{NewTileBit(0, 0, 0)}, bv("1"))))
			assert.NoError(t, db.Insert("T", "B", string(rune('A'+i)), item))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 17, db.Len())
}

func TestCorpusRoundTrip(t *testing.T) {
	db := sampleDb(t)
	data, err := Encode(db)
	require.NoError(t, err)
	assert.Equal(t, "HMRTILDB", string(data[:8]))

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, db.Equal(decoded))
	assert.Equal(t, db.Keys(), decoded.Keys())

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again, "equal databases must encode to equal bytes")
}

func TestCorpusCoordinateBounds(t *testing.T) {
	top := NewTileBit(MaxCoord, MaxCoord, MaxCoord)
	db := New()
	require.NoError(t, db.Insert("CLB", "SLICE0", "FFX", NewBitVecItem([]TileBit{top}, bv("0"))))

	data, err := Encode(db)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	item, ok := decoded.Item("CLB", "SLICE0", "FFX")
	require.True(t, ok)
	assert.Equal(t, []TileBit{top}, item.Bits)

	over := TileBit{Frame: MaxCoord + 6, Bit: 7}
	err = db.Insert("CLB", "SLICE0", "FFY", NewBitVecItem([]TileBit{over}, bv("0")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
	_, ok = db.Item("CLB", "SLICE0", "FFY")
	assert.False(t, ok)
}

func TestCorpusEmpty(t *testing.T) {
	data, err := Encode(New())
	require.NoError(t, err)
	db, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 0, db.Len())
}

func TestCorpusRejects(t *testing.T) {
	good, err := Encode(sampleDb(t))
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		return f(slices.Clone(good))
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"truncated", good[:10], "truncated"},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), "bad magic"},
		{"newer format", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[8:10], FormatVersion+1)
			return b
		}), "format version"},
		{"checksum", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }), "checksum"},
		{"unknown codec", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[10:12], 7)
			return b
		}), "codec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCorpusRejectsIncompatibleProducer(t *testing.T) {
	data, err := encode(sampleDb(t), "2.0.0")
	require.NoError(t, err)
	_, err = Decode(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not readable")

	data, err = encode(sampleDb(t), "1.0.0")
	require.NoError(t, err)
	_, err = Decode(data)
	assert.NoError(t, err)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "virtex2.hdb")

	db := sampleDb(t)
	require.NoError(t, Save(path, db))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, db.Equal(loaded))

	_, err = Load(filepath.Join(dir, "missing.hdb"))
	assert.True(t, errors.IsNotFoundError(err))

	fresh, err := LoadOrNew(filepath.Join(dir, "missing.hdb"))
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Len())
}

func TestDumpRoundTrip(t *testing.T) {
	db := sampleDb(t)
	out, err := Dump(db)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "tiles:")
	assert.Contains(t, text, "FFX_INIT:")
	assert.Contains(t, text, "0.3.7")
	assert.Contains(t, text, "STARTUP_CYCLES")

	parsed, err := ParseDump(out)
	require.NoError(t, err)
	assert.True(t, db.Equal(parsed))

	again, err := Dump(parsed)
	require.NoError(t, err)
	assert.Equal(t, text, string(again))
}

func TestParseDumpRejectsBadBits(t *testing.T) {
	doc := []byte(`
tiles:
  CLB:
    SLICE0:
      INV:
        kind: bitvec
        bits: [0.0.x]
        invert: "0"
`)
	_, err := ParseDump(doc)
	assert.Error(t, err)
}
