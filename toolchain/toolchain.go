// Package toolchain implements session.Backend by running an external
// wrapper around the vendor toolchain.
//
// Each build runs in its own directory. The wrapper is invoked as
//
//	COMMAND... recipe.yaml image.txt
//
// with HAMMER_RUN, HAMMER_PART, HAMMER_TRIAL and HAMMER_SEED in its
// environment. It must turn the recipe into a design, run the toolchain and
// write the resulting image (see ParseImage) before exiting 0.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/teranos/hammer/am"
	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/logger"
	"github.com/teranos/hammer/session"
)

const (
	// RecipeFileName is the recipe handed to the wrapper
	RecipeFileName = "recipe.yaml"
	// ImageFileName is where the wrapper writes the image
	ImageFileName = "image.txt"

	// outputTail is how much of stdout/stderr a failure report keeps
	outputTail = 4096

	// waitDelay bounds how long a killed wrapper's children may hold its output open
	waitDelay = 10 * time.Second
)

var _ session.Backend = (*Toolchain)(nil)

// Toolchain runs builds through a wrapper command. Safe for concurrent use.
type Toolchain struct {
	argv    []string
	env     []string
	workDir string
	keep    bool
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// New creates a toolchain from its configuration
func New(cfg am.ToolchainConfig, log *zap.SugaredLogger) (*Toolchain, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse toolchain command %q", cfg.Command)
	}
	if len(argv) == 0 {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("toolchain command is empty"),
			"pass the wrapper as the first argument of 'hammer run' or set toolchain.command",
		)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tc := &Toolchain{
		argv:    argv,
		env:     slices.Clone(cfg.Env),
		workDir: cfg.WorkDir,
		keep:    cfg.KeepWorkDirs,
		log:     log.Named("toolchain"),
	}
	if cfg.LaunchesPerSecond > 0 {
		tc.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchesPerSecond), 1)
	}
	return tc, nil
}

// Command returns the wrapper command line
func (tc *Toolchain) Command() []string {
	return slices.Clone(tc.argv)
}

// recipeFile is the document written to recipe.yaml
type recipeFile struct {
	Run      string            `yaml:"run"`
	Part     string            `yaml:"part"`
	Trial    int               `yaml:"trial"`
	Seed     uint64            `yaml:"seed"`
	Label    string            `yaml:"label"`
	Settings []session.Setting `yaml:"settings"`
}

// Build runs the wrapper for one request and parses the image it writes
func (tc *Toolchain) Build(ctx context.Context, req session.BuildRequest) (diff.Image, error) {
	if tc.limiter != nil {
		if err := tc.limiter.Wait(ctx); err != nil {
			return diff.Image{}, errors.Wrap(err, "waiting for a launch slot")
		}
	}

	dir, err := os.MkdirTemp(tc.workDir, workDirPattern(req))
	if err != nil {
		return diff.Image{}, errors.Wrap(err, "failed to create build directory")
	}
	if !tc.keep {
		defer os.RemoveAll(dir)
	}

	recipePath := filepath.Join(dir, RecipeFileName)
	imagePath := filepath.Join(dir, ImageFileName)
	data, err := yaml.Marshal(recipeFile{
		Run:      req.RunID,
		Part:     req.Part,
		Trial:    req.Trial,
		Seed:     req.Seed,
		Label:    req.Label,
		Settings: req.Recipe.Settings,
	})
	if err != nil {
		return diff.Image{}, errors.Wrap(err, "failed to marshal recipe")
	}
	if err := os.WriteFile(recipePath, data, am.DefaultFilePermissions); err != nil {
		return diff.Image{}, errors.Wrap(err, "failed to write recipe")
	}

	args := append(slices.Clone(tc.argv[1:]), recipePath, imagePath)
	cmd := exec.CommandContext(ctx, tc.argv[0], args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), tc.env...)
	cmd.Env = append(cmd.Env,
		"HAMMER_RUN="+req.RunID,
		"HAMMER_PART="+req.Part,
		"HAMMER_TRIAL="+strconv.Itoa(req.Trial),
		"HAMMER_SEED="+strconv.FormatUint(req.Seed, 10),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	log := logger.FromContext(ctx, tc.log).With(
		logger.FieldFeature, req.Label,
		logger.FieldWorkDir, dir)
	log.Debugw("Launching toolchain", logger.FieldCommand, strings.Join(cmd.Args, " "))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return diff.Image{}, errors.Wrapf(ctxErr, "build %s cancelled", req.Label)
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		failure := errors.NewToolchainFailure("%s failed building %s (exit code %d): %v", tc.argv[0], req.Label, code, err)
		failure = errors.WithDetailf(failure, "work dir: %s", dir)
		failure = errors.WithDetailf(failure, "stdout:\n%s", tail(stdout.Bytes()))
		failure = errors.WithDetailf(failure, "stderr:\n%s", tail(stderr.Bytes()))
		if !tc.keep {
			failure = errors.WithHint(failure, "rerun with --keep-work-dirs to inspect the build directory")
		}
		log.Warnw("Toolchain failed", logger.FieldExit, code)
		return diff.Image{}, failure
	}

	img, err := ReadImageFile(imagePath)
	if err != nil {
		return diff.Image{}, errors.Mark(
			errors.Wrapf(err, "%s exited 0 building %s but left no usable image", tc.argv[0], req.Label),
			errors.ErrToolchainFailure,
		)
	}

	log.Debugw("Toolchain finished",
		logger.FieldBits, img.Len(),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return img, nil
}

// workDirPattern names build directories after the run and the label
func workDirPattern(req session.BuildRequest) string {
	run := req.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	label := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, req.Label)
	return fmt.Sprintf("hammer-%s-t%d-%s-*", run, req.Trial, label)
}

func tail(b []byte) string {
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(bytes.TrimRight(b, "\n"))
}
