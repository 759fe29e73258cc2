package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/hammer/am"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/plan"
	"github.com/teranos/hammer/session"
	"github.com/teranos/hammer/tiledb"
)

const testPlan = `
family: spartan2
parts: [xc2s15, xc2s50]
jobs:
  - key: {tile: CLB, bel: SLICE0, attr: FFX, val: INIT1}
    recipes:
      - settings: [{kind: pip, target: CLB_X1Y1, name: "3"}]
  - key: {tile: IOB, bel: IOB0, attr: PULL, val: UP}
    recipes:
      - settings: [{kind: pip, target: IOB_X0Y1, name: "9"}]
collect:
  - {op: bit, tile: CLB, bel: SLICE0, attr: FFX, val: INIT1}
  - {op: bit, tile: IOB, bel: IOB0, attr: PULL, val: UP}
`

func render(_ context.Context, req session.BuildRequest) (diff.Image, error) {
	var bits []tiledb.TileBit
	for _, st := range req.Recipe.Settings {
		n, err := strconv.Atoi(st.Name)
		if err != nil {
			return diff.Image{}, err
		}
		bits = append(bits, tiledb.NewTileBit(0, 0, n))
	}
	return diff.NewImage(bits, nil), nil
}

func testConfig(t *testing.T) *am.Config {
	dir := t.TempDir()
	return &am.Config{
		Session:  am.SessionConfig{Workers: 2, DupFactor: 2, Seed: 11},
		Database: am.DatabaseConfig{Path: filepath.Join(dir, "spartan2.hdb"), DumpPath: filepath.Join(dir, "spartan2.yaml")},
	}
}

func testOutput() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestRunParts(t *testing.T) {
	cfg := testConfig(t)
	p, err := plan.Parse([]byte(testPlan))
	require.NoError(t, err)

	results, err := runParts(context.Background(), cfg, p, p.Parts, session.BackendFunc(render), nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "xc2s15", results[0].Part)
	assert.Equal(t, 2, results[0].Jobs)
	assert.Equal(t, 2, results[0].Items)
	assert.Equal(t, uint64(11), results[1].Seed)

	db, err := tiledb.Load(cfg.Database.Path)
	require.NoError(t, err)
	item, ok := db.Item("IOB", "IOB0", "PULL")
	require.True(t, ok)
	assert.Equal(t, []tiledb.TileBit{tiledb.NewTileBit(0, 0, 9)}, item.Bits)

	_, err = os.Stat(cfg.Database.DumpPath)
	assert.NoError(t, err, "dump written")

	// A second run over the same database agrees with what is stored
	_, err = runParts(context.Background(), cfg, p, []string{"xc2s50"}, session.BackendFunc(render), nil, zap.NewNop().Sugar())
	require.NoError(t, err)
}

func TestRunPartsFailureLeavesDatabaseUntouched(t *testing.T) {
	cfg := testConfig(t)
	p, err := plan.Parse([]byte(testPlan))
	require.NoError(t, err)

	backend := session.BackendFunc(func(ctx context.Context, req session.BuildRequest) (diff.Image, error) {
		if req.Part == "xc2s50" {
			return diff.Image{}, errors.NewToolchainFailure("par crashed")
		}
		return render(ctx, req)
	})

	_, err = runParts(context.Background(), cfg, p, p.Parts, backend, nil, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.True(t, errors.IsToolchainFailure(err))
	assert.Contains(t, err.Error(), "part xc2s50")

	_, err = os.Stat(cfg.Database.Path)
	assert.True(t, os.IsNotExist(err), "database must not be written")
}

func TestPrintSummary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DumpPath = ""
	var buf bytes.Buffer

	err := printSummary(&buf, cfg, []partResult{{Part: "xc2s50", RunID: "run-1", Jobs: 4, Features: 4, Items: 3}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "xc2s50")
	assert.Contains(t, buf.String(), "run-1")
	assert.Contains(t, buf.String(), "Wrote "+cfg.Database.Path)
}

func TestDumpAndMerge(t *testing.T) {
	dir := t.TempDir()
	a := tiledb.New()
	require.NoError(t, a.Insert("CLB", "SLICE0", "FFX", tiledb.NewBitVecItem([]tiledb.TileBit{tiledb.NewTileBit(0, 0, 3)}, []bool{false})))
	b := tiledb.New()
	require.NoError(t, b.Insert("IOB", "IOB0", "PULL", tiledb.NewBitVecItem([]tiledb.TileBit{tiledb.NewTileBit(0, 0, 9)}, []bool{true})))

	pathA := filepath.Join(dir, "a.hdb")
	pathB := filepath.Join(dir, "b.hdb")
	require.NoError(t, tiledb.Save(pathA, a))
	require.NoError(t, tiledb.Save(pathB, b))

	out := filepath.Join(dir, "all.hdb")
	cmd, buf := testOutput()
	require.NoError(t, runMerge(cmd, []string{out, pathA, pathB}))
	assert.Contains(t, buf.String(), "2 items from 2 inputs")

	merged, err := tiledb.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len())

	cmd, buf = testOutput()
	require.NoError(t, runDump(cmd, []string{out}))
	assert.Contains(t, buf.String(), "PULL")

	dumpPath := filepath.Join(dir, "all.yaml")
	cmd, _ = testOutput()
	require.NoError(t, runDump(cmd, []string{out, dumpPath}))
	data, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	parsed, err := tiledb.ParseDump(data)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(merged))
}

func TestMergeConflict(t *testing.T) {
	dir := t.TempDir()
	a := tiledb.New()
	require.NoError(t, a.Insert("CLB", "SLICE0", "FFX", tiledb.NewBitVecItem([]tiledb.TileBit{tiledb.NewTileBit(0, 0, 3)}, []bool{false})))
	b := tiledb.New()
	require.NoError(t, b.Insert("CLB", "SLICE0", "FFX", tiledb.NewBitVecItem([]tiledb.TileBit{tiledb.NewTileBit(0, 0, 4)}, []bool{false})))

	pathA := filepath.Join(dir, "a.hdb")
	pathB := filepath.Join(dir, "b.hdb")
	require.NoError(t, tiledb.Save(pathA, a))
	require.NoError(t, tiledb.Save(pathB, b))

	out := filepath.Join(dir, "all.hdb")
	cmd, _ := testOutput()
	err := runMerge(cmd, []string{out, pathA, pathB})
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateKeyMismatch(err))
	assert.False(t, fileExists(out))
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), am.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[session]\nworkers = 3\n"), 0o644))

	cmd, buf := testOutput()
	cmd.Flags().String("config", path, "")
	require.NoError(t, runConfigShow(cmd, nil))
	assert.Contains(t, buf.String(), "# from "+path)
	assert.Contains(t, buf.String(), "workers = 3")
}

func TestLogJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), am.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[log]\njson = true\n"), 0o644))

	cmd, _ := testOutput()
	cmd.Flags().String("config", path, "")
	cmd.Flags().Bool("json-logs", false, "")
	jsonLogs, err := LogJSON(cmd)
	require.NoError(t, err)
	assert.True(t, jsonLogs, "log.json from --config file")

	require.NoError(t, cmd.Flags().Set("json-logs", "false"))
	jsonLogs, err = LogJSON(cmd)
	require.NoError(t, err)
	assert.False(t, jsonLogs, "flag overrides config")

	missing, _ := testOutput()
	missing.Flags().String("config", filepath.Join(t.TempDir(), "absent.toml"), "")
	missing.Flags().Bool("json-logs", false, "")
	_, err = LogJSON(missing)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	cmd, buf := testOutput()
	require.NoError(t, VersionCmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "Corpus:")
}
