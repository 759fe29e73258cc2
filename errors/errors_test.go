package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKind(t *testing.T) {
	err := NewDiffConflict("enum %s: labels alias", "CLB:SLICE0:FFX:INIT")
	wrapped := Wrap(err, "collect CLB")

	assert.True(t, IsDiffConflict(wrapped))
	assert.Contains(t, wrapped.Error(), "collect CLB")
	assert.Contains(t, wrapped.Error(), "CLB:SLICE0:FFX:INIT")
	assert.Contains(t, wrapped.Error(), "diff conflict")
}

func TestKindHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		kind  string
	}{
		{"toolchain", NewToolchainFailure("exit %d", 2), IsToolchainFailure, "ToolchainFailure"},
		{"conflict", NewDiffConflict("split"), IsDiffConflict, "DiffConflict"},
		{"unexplained", NewUnexplainedBits("3 bits"), IsUnexplainedBits, "UnexplainedBits"},
		{"duplicate key", NewDuplicateKeyMismatch("CLB:SLICE0:INIT"), IsDuplicateKeyMismatch, "DuplicateKeyMismatch"},
		{"dup factor", NewDupFactorMismatch("trial 1"), IsDupFactorMismatch, "DupFactorMismatch"},
		{"assertion", AssertionFailedf("feature consumed twice"), HasAssertionFailure, "internal"},
		{"plain", New("plain"), func(err error) bool { return err != nil }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.kind, Kind(Wrap(tt.err, "outer")))
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	err := NewDupFactorMismatch("trial 0 vs 1")
	assert.False(t, IsDiffConflict(err))
	assert.False(t, IsToolchainFailure(err))
	assert.False(t, IsUnexplainedBits(err))
	assert.False(t, IsDuplicateKeyMismatch(err))
	assert.Equal(t, "", Kind(nil))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithDetail(nil, "detail"))
	assert.False(t, IsToolchainFailure(nil))
	assert.False(t, IsNotFoundError(nil))
}

func TestDetailsSurviveWrapping(t *testing.T) {
	err := NewToolchainFailure("build of %s failed", "CLB:SLICE0:FFX:INIT")
	err = WithDetail(err, "stderr: license checkout failed")
	err = WithHint(err, "check the toolchain environment")
	err = Wrap(err, "part xc2s50")

	require.True(t, IsToolchainFailure(err))
	assert.Contains(t, GetAllDetails(err), "stderr: license checkout failed")
	assert.Contains(t, GetAllHints(err), "check the toolchain environment")
}

func ExampleNewDiffConflict() {
	err := NewDiffConflict("bit %s flipped both ways", "0.3.7")
	fmt.Println(err)
	// Output: bit 0.3.7 flipped both ways: diff conflict
}
