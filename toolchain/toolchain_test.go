package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/hammer/am"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
	"github.com/teranos/hammer/session"
	"github.com/teranos/hammer/tiledb"
)

// wrapperScript pretends to be a toolchain wrapper: it fails on recipes
// mentioning FAIL, exits without an image on NOIMAGE, hangs on HANG and
// otherwise writes a small image.
const wrapperScript = `#!/bin/sh
recipe="$1"
image="$2"
if grep -q FAIL "$recipe"; then
	echo "placing design"
	echo "ERROR:Place:120 - design does not fit" >&2
	exit 3
fi
if grep -q NOIMAGE "$recipe"; then
	exit 0
fi
if grep -q HANG "$recipe"; then
	exec sleep 5
fi
{
	echo "# $HAMMER_PART trial $HAMMER_TRIAL"
	echo "bit 0 1 2"
	echo "fact seed=$HAMMER_SEED"
	echo "fact run=$HAMMER_RUN"
	echo "fact flag=$FUZZ_FLAG"
	if grep -q "value: \"*ON" "$recipe"; then
		echo "bit 0 3 4"
	fi
} > "$image"
`

func newTestToolchain(t *testing.T, keep bool) (*Toolchain, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("wrapper script needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}

	script := filepath.Join(t.TempDir(), "wrap.sh")
	require.NoError(t, os.WriteFile(script, []byte(wrapperScript), 0o755))
	workDir := t.TempDir()

	tc, err := New(am.ToolchainConfig{
		Command:      shellquote.Join(sh, script),
		WorkDir:      workDir,
		KeepWorkDirs: keep,
		Env:          []string{"FUZZ_FLAG=on"},
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return tc, workDir
}

func request(settings ...session.Setting) session.BuildRequest {
	return session.BuildRequest{
		RunID:  "0b8f3c2e-1111-2222-3333-444455556666",
		Part:   "xc2s50",
		Trial:  1,
		Seed:   7,
		Label:  "CLB:SLICE0:FFX:INIT1#0",
		Recipe: session.NewRecipe(settings...),
	}
}

func TestBuild(t *testing.T) {
	tc, workDir := newTestToolchain(t, false)

	img, err := tc.Build(context.Background(), request(
		session.Setting{Kind: session.SettingAttr, Target: "SLICE0", Name: "INITX", Value: "ON"},
	))
	require.NoError(t, err)
	assert.True(t, img.Bit(tiledb.NewTileBit(0, 1, 2)))
	assert.True(t, img.Bit(tiledb.NewTileBit(0, 3, 4)))
	assert.True(t, img.HasFact("seed=7"))
	assert.True(t, img.HasFact("run=0b8f3c2e-1111-2222-3333-444455556666"))
	assert.True(t, img.HasFact("flag=on"))

	img, err = tc.Build(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 1, img.Len())

	// Build directories are removed by default
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildKeepWorkDirs(t *testing.T) {
	tc, workDir := newTestToolchain(t, true)

	_, err := tc.Build(context.Background(), request(
		session.Setting{Kind: session.SettingMode, Target: "SLICE0", Value: "LOGIC"},
	))
	require.NoError(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "hammer-0b8f3c2e-t1-CLB_SLICE0_FFX_INIT1_0-"), entries[0].Name())

	recipe, err := os.ReadFile(filepath.Join(workDir, entries[0].Name(), RecipeFileName))
	require.NoError(t, err)
	assert.Contains(t, string(recipe), "part: xc2s50")
	assert.Contains(t, string(recipe), "kind: mode")
	assert.Contains(t, string(recipe), "value: LOGIC")
}

func TestBuildFailure(t *testing.T) {
	tc, _ := newTestToolchain(t, false)

	_, err := tc.Build(context.Background(), request(
		session.Setting{Kind: session.SettingAttr, Target: "SLICE0", Name: "X", Value: "FAIL"},
	))
	require.Error(t, err)
	assert.True(t, errors.IsToolchainFailure(err))
	assert.Contains(t, err.Error(), "exit code 3")

	details := errors.FlattenDetails(err)
	assert.Contains(t, details, "ERROR:Place:120")
	assert.Contains(t, details, "placing design")
	assert.NotEmpty(t, errors.FlattenHints(err))
}

func TestBuildMissingImage(t *testing.T) {
	tc, _ := newTestToolchain(t, false)

	_, err := tc.Build(context.Background(), request(
		session.Setting{Kind: session.SettingAttr, Target: "SLICE0", Name: "X", Value: "NOIMAGE"},
	))
	require.Error(t, err)
	assert.True(t, errors.IsToolchainFailure(err))
	assert.Contains(t, err.Error(), "no usable image")
}

func TestBuildCancelled(t *testing.T) {
	tc, _ := newTestToolchain(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := tc.Build(ctx, request(
		session.Setting{Kind: session.SettingAttr, Target: "SLICE0", Name: "X", Value: "HANG"},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.IsToolchainFailure(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestLaunchLimiterHonorsContext(t *testing.T) {
	tc, err := New(am.ToolchainConfig{Command: "true", LaunchesPerSecond: 0.5}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tc.Build(ctx, request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch slot")
}

func TestNewRejectsBadCommand(t *testing.T) {
	_, err := New(am.ToolchainConfig{Command: "   "}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = New(am.ToolchainConfig{Command: `wrap --family "virtex`}, nil)
	assert.Error(t, err)

	tc, err := New(am.ToolchainConfig{Command: `wrap --family 'virtex 2'`}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wrap", "--family", "virtex 2"}, tc.Command())
}

func TestToolchainAsSessionBackend(t *testing.T) {
	tc, _ := newTestToolchain(t, false)

	s, err := session.New(tc, session.Config{Part: "xc2s50", Workers: 2, DupFactor: 2, Seed: 9}, nil)
	require.NoError(t, err)
	k := session.Job{
		Key: feature.Key{Tile: "CLB", Bel: "SLICE0", Attr: "INITX", Val: "ON"},
		Recipes: []session.Recipe{session.NewRecipe(
			session.Setting{Kind: session.SettingAttr, Target: "SLICE0", Name: "INITX", Value: "ON"},
		)},
	}
	_, err = s.Add(k)
	require.NoError(t, err)

	state, err := s.Run(context.Background())
	require.NoError(t, err)
	d, err := state.GetDiff(k.Key)
	require.NoError(t, err)
	assert.Equal(t, "[0.3.4:1]", d.String())
}
