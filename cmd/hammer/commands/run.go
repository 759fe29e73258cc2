package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/hammer/am"
	"github.com/teranos/hammer/collector"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/logger"
	"github.com/teranos/hammer/plan"
	"github.com/teranos/hammer/session"
	"github.com/teranos/hammer/tiledb"
	"github.com/teranos/hammer/toolchain"
)

// RunCmd fuzzes the parts of a plan
var RunCmd = &cobra.Command{
	Use:   "run TOOLCHAIN DB [PART...]",
	Short: "Fuzz the parts of a plan into a tile database",
	Long: `Run a fuzzing session for every selected part of a plan.

TOOLCHAIN is the wrapper command line; it is invoked once per build as
"TOOLCHAIN recipe.yaml image.txt". DB is the tile database to extend; it is
loaded first when it exists. PART arguments are glob patterns selecting plan
parts; without them every part is fuzzed.

The database is written only after every selected part has been fuzzed and
classified. Any failure leaves it untouched.

Examples:
  hammer run ./wrap.sh spartan2.hdb --plan spartan2.yaml
  hammer run ./wrap.sh spartan2.hdb 'xc2s1*' --plan spartan2.yaml --no-dup
  hammer run ./wrap.sh spartan2.hdb --plan spartan2.yaml --dump spartan2.dump.yaml`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

var (
	runPlanFile     string
	runNoDup        bool
	runMaxThreads   int
	runDupTolerance int
	runDumpFile     string
	runKeepWorkDirs bool
	runSeed         uint64
)

func init() {
	RunCmd.Flags().StringVar(&runPlanFile, "plan", "", "Plan file (YAML) naming parts, jobs and collect steps")
	RunCmd.Flags().BoolVar(&runNoDup, "no-dup", false, "Build every feature once (dup factor 1)")
	RunCmd.Flags().IntVar(&runMaxThreads, "max-threads", 0, "Concurrent builds (0 = recommend from CPUs and memory)")
	RunCmd.Flags().IntVar(&runDupTolerance, "dup-tolerance", 0, "Disputed bits dropped before trials count as mismatched")
	RunCmd.Flags().StringVar(&runDumpFile, "dump", "", "Also write a YAML dump of the database")
	RunCmd.Flags().BoolVar(&runKeepWorkDirs, "keep-work-dirs", false, "Keep build work directories for inspection")
	RunCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Run seed (0 = random)")
	_ = RunCmd.MarkFlagRequired("plan")
}

// partResult summarizes the session of one part
type partResult struct {
	Part     string
	RunID    string
	Seed     uint64
	Jobs     int
	Features int
	Items    int
	Took     time.Duration
}

// applyRunFlags folds positional arguments and explicitly set flags into cfg
func applyRunFlags(cmd *cobra.Command, cfg *am.Config, args []string) {
	cfg.Toolchain.Command = args[0]
	cfg.Database.Path = args[1]

	flags := cmd.Flags()
	if flags.Changed("max-threads") {
		cfg.Session.Workers = runMaxThreads
	}
	if flags.Changed("dup-tolerance") {
		cfg.Session.DupTolerance = runDupTolerance
	}
	if runNoDup {
		cfg.Session.DupFactor = 1
	}
	if flags.Changed("seed") {
		cfg.Session.Seed = runSeed
	}
	if flags.Changed("keep-work-dirs") {
		cfg.Toolchain.KeepWorkDirs = runKeepWorkDirs
	}
	if flags.Changed("dump") {
		cfg.Database.DumpPath = runDumpFile
	}
}

// sessionConfig maps the session section of the configuration
func sessionConfig(cfg *am.Config) session.Config {
	return session.Config{
		Workers:          cfg.Session.Workers,
		DupFactor:        cfg.Session.DupFactor,
		DupTolerance:     cfg.Session.DupTolerance,
		Seed:             cfg.Session.Seed,
		MemoryPerBuildGB: cfg.Session.MemoryPerBuildGB,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, args)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	p, err := plan.Load(runPlanFile)
	if err != nil {
		return err
	}
	parts, err := p.PartsMatching(args[2:])
	if err != nil {
		return err
	}

	log := logger.ComponentLogger("run")
	tc, err := toolchain.New(cfg.Toolchain, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress func(part string) session.ProgressEmitter
	if !logger.JSONOutput {
		progress = newProgressBar
	}
	results, err := runParts(ctx, cfg, p, parts, tc, progress, log)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), cfg, results)
}

// runParts fuzzes each part in turn and saves the merged database once all
// of them succeeded. progress may be nil.
func runParts(ctx context.Context, cfg *am.Config, p *plan.Plan, parts []string, backend session.Backend, progress func(part string) session.ProgressEmitter, log *zap.SugaredLogger) ([]partResult, error) {
	existed := fileExists(cfg.Database.Path)
	db, err := tiledb.LoadOrNew(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	log.Infow("Starting run",
		"family", p.Family,
		"parts", parts,
		logger.FieldFile, cfg.Database.Path,
		"existing", existed,
		logger.FieldCount, db.Len())

	results := make([]partResult, 0, len(parts))
	for _, part := range parts {
		scfg := p.SessionConfig(part, sessionConfig(cfg))
		if progress != nil {
			scfg.Progress = progress(part)
		}
		res, partDb, err := runPart(ctx, scfg, p, backend, log)
		if c, ok := scfg.Progress.(interface{ Close() }); ok {
			c.Close()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "part %s", part)
		}
		if err := db.Merge(partDb); err != nil {
			return nil, errors.Wrapf(err, "merging part %s", part)
		}
		results = append(results, res)
	}

	if err := tiledb.Save(cfg.Database.Path, db); err != nil {
		return nil, err
	}
	if cfg.Database.DumpPath != "" {
		if err := tiledb.SaveDump(cfg.Database.DumpPath, db); err != nil {
			return nil, err
		}
	}
	log.Infow("Saved tile database", logger.FieldFile, cfg.Database.Path, logger.FieldCount, db.Len())
	return results, nil
}

func runPart(ctx context.Context, scfg session.Config, p *plan.Plan, backend session.Backend, log *zap.SugaredLogger) (partResult, *tiledb.TileDb, error) {
	start := time.Now()
	part := scfg.Part
	log = log.With(logger.FieldPart, part)

	s, err := session.New(backend, scfg, log)
	if err != nil {
		return partResult{}, nil, err
	}
	if err := p.Enqueue(s); err != nil {
		return partResult{}, nil, err
	}

	state, err := s.Run(ctx)
	if err != nil {
		return partResult{}, nil, err
	}

	partDb := tiledb.New()
	if err := p.Apply(collector.New(state, partDb, part, log)); err != nil {
		return partResult{}, nil, err
	}

	res := partResult{
		Part:     part,
		RunID:    s.RunID(),
		Seed:     s.Seed(),
		Jobs:     s.Len(),
		Features: state.Len(),
		Items:    partDb.Len(),
		Took:     time.Since(start),
	}
	log.Infow("Part complete",
		logger.FieldRunID, res.RunID,
		logger.FieldCount, res.Items,
		logger.FieldDurationMS, res.Took.Milliseconds())
	return res, partDb, nil
}

func printSummary(w io.Writer, cfg *am.Config, results []partResult) error {
	data := pterm.TableData{{"Part", "Jobs", "Features", "Items", "Seed", "Run", "Time"}}
	for _, r := range results {
		data = append(data, []string{
			r.Part,
			strconv.Itoa(r.Jobs),
			strconv.Itoa(r.Features),
			strconv.Itoa(r.Items),
			strconv.FormatUint(r.Seed, 10),
			r.RunID,
			r.Took.Round(time.Millisecond).String(),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render summary")
	}
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "\nWrote %s", cfg.Database.Path)
	if cfg.Database.DumpPath != "" {
		fmt.Fprintf(w, " and %s", cfg.Database.DumpPath)
	}
	fmt.Fprintln(w)
	return nil
}
