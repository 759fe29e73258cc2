package toolchain

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

// ParseImage reads the image file a wrapper writes. One record per line:
//
//	bit RECT FRAME BIT
//	fact TEXT
//
// Blank lines and lines starting with '#' are ignored.
func ParseImage(r io.Reader) (diff.Image, error) {
	var img diff.Image
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		kind, rest, _ := strings.Cut(text, " ")
		switch kind {
		case "bit":
			bit, err := parseBit(rest)
			if err != nil {
				return diff.Image{}, errors.Wrapf(err, "image line %d", line)
			}
			img.SetBit(bit)
		case "fact":
			fact := strings.TrimSpace(rest)
			if fact == "" {
				return diff.Image{}, errors.Newf("image line %d: empty fact", line)
			}
			img.AddFact(fact)
		default:
			return diff.Image{}, errors.Newf("image line %d: unknown record %q", line, kind)
		}
	}
	if err := sc.Err(); err != nil {
		return diff.Image{}, errors.Wrap(err, "failed to read image")
	}
	return img, nil
}

func parseBit(s string) (tiledb.TileBit, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return tiledb.TileBit{}, errors.Newf("bit record needs RECT FRAME BIT, got %q", s)
	}
	var nums [3]int
	for i, f := range fields {
		n, err := tiledb.ParseCoord(f)
		if err != nil {
			return tiledb.TileBit{}, err
		}
		nums[i] = n
	}
	return tiledb.NewTileBit(nums[0], nums[1], nums[2]), nil
}

// ReadImageFile parses the image file at path
func ReadImageFile(path string) (diff.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return diff.Image{}, errors.Wrapf(err, "failed to open image %s", path)
	}
	defer f.Close()
	img, err := ParseImage(f)
	if err != nil {
		return diff.Image{}, errors.Wrapf(err, "image %s", path)
	}
	return img, nil
}
