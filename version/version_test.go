package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoString(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "now", Version: "dev"}
	assert.Equal(t, "hammer dev (commit 0123456789abcdef, built now)", info.String())
	assert.Equal(t, "0123456", info.Short())

	info.Version = "v0.3.1"
	assert.True(t, strings.HasPrefix(info.String(), "hammer v0.3.1"))

	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
}

func TestCorpusCompatible(t *testing.T) {
	tests := []struct {
		producer string
		ok       bool
	}{
		{CorpusVersion, true},
		{"1.0.0", true},
		{"1.1.7", true},
		{"1.99.0", false},
		{"2.0.0", false},
		{"0.9.0", false},
		{"not-a-version", false},
	}
	for _, tt := range tests {
		t.Run(tt.producer, func(t *testing.T) {
			err := CorpusCompatible(tt.producer)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
