// Package session schedules fuzz jobs through a Backend and turns the
// resulting images into per-feature diffs.
//
// A run builds every job recipe once per trial (dup factor), plus one
// baseline per trial. Builds run concurrently on a bounded worker pool in
// shuffled order; jobs sharing a claim never build at the same time. The
// first failure cancels the run. Trials of the same feature must agree bit
// for bit (up to the configured tolerance) or the run fails with a
// DupFactorMismatch.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/entity"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
	"github.com/teranos/hammer/logger"
	"github.com/teranos/hammer/tiledb"
)

// Config controls one session run
type Config struct {
	Part             string  // device the run targets, passed to every build
	Workers          int     // 0 = RecommendWorkers
	DupFactor        int     // independent trials per feature
	DupTolerance     int     // disputed bit positions dropped before trials count as mismatched
	Seed             uint64  // 0 = random per run
	MemoryPerBuildGB float64 // used when Workers is 0
	Baseline         Recipe
	Progress         ProgressEmitter // optional
}

// Validate checks the run parameters
func (c Config) Validate() error {
	if c.Workers < 0 {
		return errors.Newf("workers must be >= 0, got %d", c.Workers)
	}
	if c.DupFactor < 1 {
		return errors.Newf("dup factor must be >= 1, got %d", c.DupFactor)
	}
	if c.DupTolerance < 0 {
		return errors.Newf("dup tolerance must be >= 0, got %d", c.DupTolerance)
	}
	if err := c.Baseline.Validate(); err != nil {
		return errors.Wrap(err, "baseline recipe")
	}
	return nil
}

// Session is one scheduled run. Add jobs, then call Run once.
type Session struct {
	cfg     Config
	backend Backend
	log     *zap.SugaredLogger

	mu     sync.Mutex
	jobs   *entity.Vec[Job, *jobRecord]
	byKey  map[feature.Key]JobId
	runID  string
	seed   uint64
	ran    bool
	claims *ClaimRegistry

	flight    singleflight.Group
	baseMu    sync.Mutex
	baselines map[int]diff.Image
}

// New creates a session building through backend
func New(backend Backend, cfg Config, log *zap.SugaredLogger) (*Session, error) {
	if backend == nil {
		return nil, errors.New("session needs a backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid session config")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		cfg:       cfg,
		backend:   backend,
		log:       log.Named("session"),
		jobs:      entity.NewVec[Job, *jobRecord](64),
		byKey:     make(map[feature.Key]JobId),
		claims:    NewClaimRegistry(),
		baselines: make(map[int]diff.Image),
	}, nil
}

// Add registers a job. Each feature key may be produced by one job only.
func (s *Session) Add(job Job) (JobId, error) {
	if err := job.Validate(); err != nil {
		return 0, errors.Wrap(err, "invalid job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return 0, errors.AssertionFailedf("job %s added after the session ran", job.Key)
	}
	if other, dup := s.byKey[job.Key]; dup {
		return 0, errors.NewInvalidRequestError("feature %s is already produced by job %s", job.Key, other)
	}

	job.Recipes = slices.Clone(job.Recipes)
	job.Claims = slices.Clone(job.Claims)
	job.Expect = slices.Clone(job.Expect)
	id := s.jobs.Push(newJobRecord(job, s.cfg.DupFactor))
	s.byKey[job.Key] = id
	return id, nil
}

// Len returns the number of registered jobs
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}

// RunID returns the id of the run, empty before Run
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Seed returns the seed the run used, 0 before Run
func (s *Session) Seed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

// Claims returns the claim registry of the run
func (s *Session) Claims() *ClaimRegistry {
	return s.claims
}

type workItem struct {
	job    JobId
	trial  int
	recipe int
}

// Run builds every job and returns the cross-checked evidence. There is no
// partial result: on any failure the returned state is nil.
func (s *Session) Run(ctx context.Context) (*feature.State, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, errors.AssertionFailedf("session already ran")
	}
	s.ran = true
	s.runID = uuid.NewString()
	s.seed = s.cfg.Seed
	if s.seed == 0 {
		s.seed = rand.Uint64()
	}
	runID, seed := s.runID, s.seed
	s.mu.Unlock()

	ctx = logger.WithRunID(ctx, runID)
	if s.cfg.Part != "" {
		ctx = logger.WithPart(ctx, s.cfg.Part)
	}
	log := logger.FromContext(ctx, s.log)

	workers := s.cfg.Workers
	if workers == 0 {
		workers = RecommendWorkers(s.cfg.MemoryPerBuildGB)
	}
	trials := s.cfg.DupFactor
	seeds := trialSeeds(seed, trials)

	var items []workItem
	for id, rec := range s.jobs.All() {
		for t := range trials {
			for r := range rec.job.Recipes {
				items = append(items, workItem{job: id, trial: t, recipe: r})
			}
		}
	}
	rand.New(rand.NewPCG(seed, 1)).Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})

	log.Infow("Starting session run",
		logger.FieldCount, s.jobs.Len(),
		"builds", len(items),
		logger.FieldWorkers, workers,
		logger.FieldSeed, seed,
		"dup_factor", trials)
	start := time.Now()
	progress := newProgressCounter(s.cfg.Progress)
	progress.stage(StageBuild, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.runItem(gctx, runID, it, seeds[it.trial]); err != nil {
				return err
			}
			progress.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorw("Session run failed",
			logger.FieldError, err.Error(),
			logger.FieldErrorKind, errors.Kind(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "session run cancelled")
	}

	progress.stage(StageCollect, s.jobs.Len())
	state, err := s.collect(log, progress)
	if err != nil {
		log.Errorw("Session evidence rejected",
			logger.FieldError, err.Error(),
			logger.FieldErrorKind, errors.Kind(err))
		return nil, err
	}

	took := time.Since(start)
	log.Infow("Session run finished",
		logger.FieldCount, state.Len(),
		logger.FieldDurationMS, took.Milliseconds())
	progress.complete(map[string]interface{}{
		"features": state.Len(),
		"builds":   len(items),
		"duration": took,
	})
	return state, nil
}

func trialSeeds(seed uint64, n int) []uint64 {
	rng := rand.New(rand.NewPCG(seed, 0))
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	return seeds
}

func (s *Session) runItem(ctx context.Context, runID string, it workItem, seed uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := *s.jobs.At(it.job)
	if err := rec.dispatch(); err != nil {
		return err
	}

	ctx = logger.WithTrial(ctx, it.trial)
	if _, err := s.baseline(ctx, runID, it.trial, seed); err != nil {
		return err
	}
	ctx = logger.WithJobID(ctx, it.job.String())
	log := logger.FromContext(ctx, s.log)

	label := fmt.Sprintf("%s#%d", rec.job.Key, it.recipe)
	release, err := s.claims.Acquire(ctx, label, rec.job.Claims)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	img, err := s.backend.Build(ctx, BuildRequest{
		RunID:  runID,
		Part:   s.cfg.Part,
		Trial:  it.trial,
		Seed:   seed,
		Label:  label,
		Recipe: rec.job.Recipes[it.recipe].Over(s.cfg.Baseline),
	})
	if err != nil {
		return errors.WithDetailf(
			errors.Wrapf(err, "building %s", label),
			"trial %d of %d", it.trial, s.cfg.DupFactor,
		)
	}
	took := time.Since(start)

	log.Debugw("Build finished",
		logger.FieldFeature, rec.job.Key.String(),
		"recipe", it.recipe,
		logger.FieldBits, img.Len(),
		logger.FieldDurationMS, took.Milliseconds())
	return rec.built(it.trial, it.recipe, img, took)
}

// baseline returns the baseline image of a trial, building it on first use.
// Concurrent callers for the same trial share one build.
func (s *Session) baseline(ctx context.Context, runID string, trial int, seed uint64) (diff.Image, error) {
	if img, ok := s.cachedBaseline(trial); ok {
		return img, nil
	}
	v, err, _ := s.flight.Do(strconv.Itoa(trial), func() (interface{}, error) {
		if img, ok := s.cachedBaseline(trial); ok {
			return img, nil
		}
		img, err := s.backend.Build(ctx, BuildRequest{
			RunID:  runID,
			Part:   s.cfg.Part,
			Trial:  trial,
			Seed:   seed,
			Label:  BaselineLabel,
			Recipe: s.cfg.Baseline,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "building baseline for trial %d", trial)
		}
		s.baseMu.Lock()
		s.baselines[trial] = img
		s.baseMu.Unlock()
		return img, nil
	})
	if err != nil {
		return diff.Image{}, err
	}
	return v.(diff.Image), nil
}

func (s *Session) cachedBaseline(trial int) (diff.Image, bool) {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	img, ok := s.baselines[trial]
	return img, ok
}

// collect diffs every build against its baseline, cross-checks the trials
// and records the agreed diffs
func (s *Session) collect(log *zap.SugaredLogger, progress *progressCounter) (*feature.State, error) {
	state := feature.NewState()
	var conflicts []error

	for id, rec := range s.jobs.All() {
		if err := rec.advance(JobStatusCollected); err != nil {
			return nil, err
		}

		diffs := make([][]diff.Diff, len(rec.images))
		for t, row := range rec.images {
			base, ok := s.cachedBaseline(t)
			if !ok {
				return nil, errors.AssertionFailedf("no baseline for trial %d", t)
			}
			diffs[t] = make([]diff.Diff, len(row))
			for r, img := range row {
				diffs[t][r] = diff.Between(base, img)
			}
		}

		agreed, err := s.crossCheck(log, rec.job.Key, diffs)
		if err == nil {
			for _, e := range rec.job.Expect {
				if err = e.check(rec.job.Key, agreed, rec.images); err != nil {
					break
				}
			}
		}
		if err != nil {
			if terr := rec.conflict(err); terr != nil {
				return nil, terr
			}
			conflicts = append(conflicts, err)
			progress.step()
			continue
		}

		if err := rec.advance(JobStatusConsistent); err != nil {
			return nil, err
		}
		if err := state.Record(rec.job.Key, feature.Data{
			Diffs:  agreed,
			Source: "job " + id.String(),
			Trials: len(diffs),
		}); err != nil {
			return nil, err
		}
		progress.step()
	}

	if len(conflicts) > 0 {
		err := conflicts[0]
		if len(conflicts) > 1 {
			err = errors.WithHintf(err, "%d more job(s) are conflicting, see the run report", len(conflicts)-1)
		}
		return nil, err
	}
	return state, nil
}

// crossCheck compares the trials of each recipe against trial 0. Disputed
// positions within the tolerance are dropped; more is a DupFactorMismatch.
func (s *Session) crossCheck(log *zap.SugaredLogger, key feature.Key, diffs [][]diff.Diff) ([]diff.Diff, error) {
	agreed := make([]diff.Diff, len(diffs[0]))
	for r := range agreed {
		ref := diffs[0][r]
		disputed := make(map[tiledb.TileBit]struct{})
		var details []string
		for t := 1; t < len(diffs); t++ {
			bits := disagreement(ref, diffs[t][r])
			if len(bits) == 0 {
				continue
			}
			for _, b := range bits {
				disputed[b] = struct{}{}
			}
			details = append(details, fmt.Sprintf("trial 0: %s\ntrial %d: %s\ndiffering: %s",
				ref, t, diffs[t][r], tiledb.FormatBits(bits)))
		}

		if len(disputed) == 0 {
			agreed[r] = ref
			continue
		}
		if len(disputed) > s.cfg.DupTolerance {
			return nil, errors.WithDetail(
				errors.NewDupFactorMismatch("feature %s recipe %d: trials disagree on %d bit(s)", key, r, len(disputed)),
				strings.Join(details, "\n"),
			)
		}

		kept := ref.Clone()
		kept.SplitBits(disputed)
		log.Warnw("Dropping bits the trials disagree on",
			logger.FieldFeature, key.String(),
			"recipe", r,
			logger.FieldBits, len(disputed),
			"tolerance", s.cfg.DupTolerance)
		agreed[r] = kept
	}
	return agreed, nil
}

// disagreement returns the bits where a and b differ, sorted
func disagreement(a, b diff.Diff) []tiledb.TileBit {
	var res []tiledb.TileBit
	for _, bit := range a.Bits() {
		av, _ := a.Get(bit)
		if bv, ok := b.Get(bit); !ok || av != bv {
			res = append(res, bit)
		}
	}
	for _, bit := range b.Bits() {
		if !a.Has(bit) {
			res = append(res, bit)
		}
	}
	slices.SortFunc(res, tiledb.TileBit.Compare)
	return res
}

// Report returns the status of every job, sorted by feature key
func (s *Session) Report() []JobReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]JobReport, 0, s.jobs.Len())
	for id, rec := range s.jobs.All() {
		res = append(res, rec.report(id))
	}
	slices.SortFunc(res, func(a, b JobReport) int { return a.Key.Compare(b.Key) })
	return res
}

// CountByStatus tallies reports by status
func CountByStatus(reports []JobReport) map[JobStatus]int {
	res := make(map[JobStatus]int)
	for _, r := range reports {
		res[r.Status]++
	}
	return res
}
