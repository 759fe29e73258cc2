package tiledb

import (
	"bytes"
	"encoding/binary"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/teranos/hammer/bitvec"
	"github.com/teranos/hammer/entity"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/version"
)

// Corpus file layout: a fixed 32-byte little-endian header followed by the payload.
//
//	0  magic           [8]byte "HMRTILDB"
//	8  format version  uint16
//	10 codec           uint16
//	12 payload length  uint64 (uncompressed)
//	20 checksum        uint64 (xxhash64 of the stored payload bytes)
//	28 reserved        [4]byte
const (
	headerSize = 32

	// FormatVersion is the corpus container version written by Encode
	FormatVersion uint16 = 1

	// maxPayload bounds the declared uncompressed size accepted by Decode
	maxPayload = 1 << 32
)

var magic = [8]byte{'H', 'M', 'R', 'T', 'I', 'L', 'D', 'B'}

// Codec identifies the payload compression
type Codec uint16

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
)

type header struct {
	Version  uint16
	Codec    Codec
	Length   uint64
	Checksum uint64
}

func (h header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.Codec))
	binary.LittleEndian.PutUint64(buf[12:20], h.Length)
	binary.LittleEndian.PutUint64(buf[20:28], h.Checksum)
	return buf
}

func parseHeader(data []byte) (header, error) {
	if len(data) < headerSize {
		return header{}, errors.Newf("tile database truncated: %d bytes, header needs %d", len(data), headerSize)
	}
	if !bytes.Equal(data[0:8], magic[:]) {
		return header{}, errors.WithHint(
			errors.New("not a tile database: bad magic"),
			"the file may be a YAML dump; tile databases are written by 'hammer run' or 'hammer merge'",
		)
	}
	return header{
		Version:  binary.LittleEndian.Uint16(data[8:10]),
		Codec:    Codec(binary.LittleEndian.Uint16(data[10:12])),
		Length:   binary.LittleEndian.Uint64(data[12:20]),
		Checksum: binary.LittleEndian.Uint64(data[20:28]),
	}, nil
}

// Payload records. Every slice is sorted so equal databases encode to equal bytes.
type corpusPayload struct {
	Producer string         `msgpack:"producer"`
	Items    []itemRecord   `msgpack:"items"`
	Misc     []valueRecord  `msgpack:"misc"`
	Devices  []deviceRecord `msgpack:"devices"`
}

type bitRecord struct {
	_msgpack struct{} `msgpack:",as_array"`
	Rect     uint32
	Frame    uint32
	Bit      uint32
}

type itemRecord struct {
	Tile   string        `msgpack:"tile"`
	Bel    string        `msgpack:"bel"`
	Attr   string        `msgpack:"attr"`
	Kind   uint8         `msgpack:"kind"`
	Bits   []bitRecord   `msgpack:"bits"`
	Invert []bool        `msgpack:"invert,omitempty"`
	Values []valueRecord `msgpack:"values,omitempty"`
}

type valueRecord struct {
	Key   string `msgpack:"key"`
	Value []bool `msgpack:"value"`
}

type deviceRecord struct {
	Device string        `msgpack:"device"`
	Values []valueRecord `msgpack:"values"`
}

// Encode serializes db as a zstd-compressed corpus
func Encode(db *TileDb) ([]byte, error) {
	return encode(db, version.CorpusVersion)
}

func encode(db *TileDb, producer string) ([]byte, error) {
	snap := db.snapshot()
	payload := corpusPayload{Producer: producer}

	for _, key := range sortedKeys(snap.items) {
		item := snap.items[key]
		rec := itemRecord{
			Tile: key.Tile,
			Bel:  key.Bel,
			Attr: key.Attr,
			Kind: uint8(item.Kind),
			Bits: make([]bitRecord, len(item.Bits)),
		}
		for i, b := range item.Bits {
			if err := b.Validate(); err != nil {
				return nil, errors.Wrapf(err, "item %s", key)
			}
			rec.Bits[i] = bitRecord{Rect: uint32(b.Rect), Frame: uint32(b.Frame), Bit: uint32(b.Bit)}
		}
		switch item.Kind {
		case KindBitVec:
			rec.Invert = item.Invert
		case KindEnum:
			rec.Values = valueRecords(item.Values)
		}
		payload.Items = append(payload.Items, rec)
	}
	payload.Misc = valueRecords(snap.misc)
	for _, dev := range snap.Devices() {
		payload.Devices = append(payload.Devices, deviceRecord{Device: dev, Values: valueRecords(snap.device[dev])})
	}

	raw, err := msgpack.Marshal(&payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tile database payload")
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(9)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	compressed := enc.EncodeAll(raw, nil)
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to close zstd encoder")
	}

	h := header{
		Version:  FormatVersion,
		Codec:    CodecZstd,
		Length:   uint64(len(raw)),
		Checksum: xxhash.Sum64(compressed),
	}
	return append(h.marshal(), compressed...), nil
}

func valueRecords(table map[string]bitvec.BitVec) []valueRecord {
	keys := slices.Sorted(maps.Keys(table))
	res := make([]valueRecord, 0, len(keys))
	for _, k := range keys {
		res = append(res, valueRecord{Key: k, Value: table[k]})
	}
	return res
}

// Decode parses a corpus produced by Encode
func Decode(data []byte) (*TileDb, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Version == 0 || h.Version > FormatVersion {
		return nil, errors.WithHintf(
			errors.Newf("unsupported tile database format version %d (this build reads up to %d)", h.Version, FormatVersion),
			"upgrade hammer to read this database",
		)
	}
	if h.Length > maxPayload {
		return nil, errors.Newf("tile database declares %d payload bytes, limit is %d", h.Length, uint64(maxPayload))
	}

	stored := data[headerSize:]
	if sum := xxhash.Sum64(stored); sum != h.Checksum {
		return nil, errors.WithDetailf(
			errors.New("tile database checksum mismatch"),
			"header %016x, payload %016x", h.Checksum, sum,
		)
	}

	var raw []byte
	switch h.Codec {
	case CodecNone:
		raw = stored
	case CodecZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zstd decoder")
		}
		raw, err = dec.DecodeAll(stored, make([]byte, 0, h.Length))
		dec.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decompress tile database")
		}
	default:
		return nil, errors.Newf("unknown tile database codec %d", h.Codec)
	}
	if uint64(len(raw)) != h.Length {
		return nil, errors.Newf("tile database payload is %d bytes, header declares %d", len(raw), h.Length)
	}

	var payload corpusPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode tile database payload")
	}
	if err := version.CorpusCompatible(payload.Producer); err != nil {
		return nil, err
	}

	db := New()
	for _, rec := range payload.Items {
		item := TileItem{Kind: ItemKind(rec.Kind), Bits: make([]TileBit, len(rec.Bits))}
		for i, b := range rec.Bits {
			item.Bits[i] = TileBit{Rect: entity.Id[Rect](b.Rect), Frame: int(b.Frame), Bit: int(b.Bit)}
		}
		switch item.Kind {
		case KindBitVec:
			item.Invert = bitvec.BitVec(rec.Invert)
			if item.Invert == nil {
				item.Invert = bitvec.BitVec{}
			}
		case KindEnum:
			item.Values = make(map[string]bitvec.BitVec, len(rec.Values))
			for _, v := range rec.Values {
				item.Values[v.Key] = v.Value
			}
		}
		if err := db.Insert(rec.Tile, rec.Bel, rec.Attr, item); err != nil {
			return nil, errors.Wrap(err, "corrupt tile database")
		}
	}
	for _, v := range payload.Misc {
		if err := db.InsertMisc(v.Key, v.Value); err != nil {
			return nil, errors.Wrap(err, "corrupt tile database")
		}
	}
	for _, dev := range payload.Devices {
		for _, v := range dev.Values {
			if err := db.InsertDevice(dev.Device, v.Key, v.Value); err != nil {
				return nil, errors.Wrap(err, "corrupt tile database")
			}
		}
	}
	return db, nil
}

// Save writes db to path atomically
func Save(path string, db *TileDb) error {
	data, err := Encode(db)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	f, err := os.CreateTemp(dir, ".tiledb-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move tile database into place at %s", path)
	}
	return nil
}

// Load reads a tile database written by Save
func Load(path string) (*TileDb, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "tile database %s", path)
		}
		return nil, errors.Wrapf(err, "failed to read tile database %s", path)
	}
	db, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "tile database %s", path)
	}
	return db, nil
}

// LoadOrNew reads path, or returns an empty database when it does not exist
func LoadOrNew(path string) (*TileDb, error) {
	db, err := Load(path)
	if errors.Is(err, errors.ErrNotFound) {
		return New(), nil
	}
	return db, err
}
