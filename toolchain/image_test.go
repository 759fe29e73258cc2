package toolchain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hammer/tiledb"
)

func TestParseImage(t *testing.T) {
	img, err := ParseImage(strings.NewReader(`# xc2s50 baseline
bit 0 12 3
bit 4 0 17

fact INT_X3Y7.E2BEG0->W2END0
   bit 0 12 3
`))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Len())
	assert.True(t, img.Bit(tiledb.NewTileBit(0, 12, 3)))
	assert.True(t, img.Bit(tiledb.NewTileBit(4, 0, 17)))
	assert.True(t, img.HasFact("INT_X3Y7.E2BEG0->W2END0"))
}

func TestParseImageErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"unknown record", "frame 1 2\n", `unknown record "frame"`},
		{"short bit", "bit 1 2\n", "RECT FRAME BIT"},
		{"negative bit", "bit 1 2 -3\n", "invalid bit coordinate"},
		{"not a number", "bit 1 x 3\n", "invalid bit coordinate"},
		{"rect too large", "bit 5000000000 0 0\n", "invalid bit coordinate"},
		{"frame too large", "bit 0 4294967296 0\n", "invalid bit coordinate"},
		{"empty fact", "bit 0 0 0\nfact   \n", "line 2: empty fact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseImage(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ImageFileName)
	require.NoError(t, os.WriteFile(path, []byte("bit 1 2 3\n"), 0o644))

	img, err := ReadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, []tiledb.TileBit{tiledb.NewTileBit(1, 2, 3)}, img.Bits())

	_, err = ReadImageFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
