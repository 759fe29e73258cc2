package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/tiledb"
)

func TestExtractCommonDiff(t *testing.T) {
	labeled := []Labeled{
		{"A", d(map[int]bool{0: true, 5: true})},
		{"B", d(map[int]bool{1: true, 5: true})},
	}
	common, err := ExtractCommonDiff(labeled)
	require.NoError(t, err)
	assert.Equal(t, "[0.0.5:1]", common.String())
	assert.Equal(t, "[0.0.0:1]", labeled[0].Diff.String())
	assert.Equal(t, "[0.0.1:1]", labeled[1].Diff.String())

	_, err = ExtractCommonDiff([]Labeled{
		{"A", d(map[int]bool{5: true})},
		{"B", d(map[int]bool{5: false})},
	})
	assert.True(t, errors.IsDiffConflict(err))
}

func TestExtractBitVecVal(t *testing.T) {
	field := tiledb.NewBitVecItem(bitsOf(10, 11, 12), bv("010"))

	val, err := ExtractBitVecVal(field, bv("000"), d(map[int]bool{10: true, 11: false}))
	require.NoError(t, err)
	assert.Equal(t, "110", val.String())

	_, err = ExtractBitVecVal(field, bv("000"), d(map[int]bool{11: true}))
	assert.True(t, errors.IsDiffConflict(err), "bit already at the base value")

	_, err = ExtractBitVecVal(field, bv("000"), d(map[int]bool{99: true}))
	assert.True(t, errors.IsUnexplainedBits(err))

	_, err = ExtractBitVecVal(field, bv("00"), d(map[int]bool{10: true}))
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestExtractBitVecValPart(t *testing.T) {
	field := tiledb.NewBitVecItem(bitsOf(10, 11, 12), bv("000"))
	rest := d(map[int]bool{10: true, 99: true})

	val, err := ExtractBitVecValPart(field, bv("000"), &rest)
	require.NoError(t, err)
	assert.Equal(t, "100", val.String())
	assert.Equal(t, "[0.0.99:1]", rest.String())
}
