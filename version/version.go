package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/hammer/errors"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// CorpusVersion is the producer version stamped into every tile database.
// Readers accept any corpus produced by the same major version.
const CorpusVersion = "1.2.0"

// Info contains version and build information
type Info struct {
	CommitHash    string `json:"commit_hash"`
	BuildTime     string `json:"build_time"`
	Version       string `json:"version"`
	CorpusVersion string `json:"corpus_version"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash:    CommitHash,
		BuildTime:     BuildTime,
		Version:       Version,
		CorpusVersion: CorpusVersion,
		GoVersion:     runtime.Version(),
		Platform:      fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("hammer %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("hammer dev (commit %s, built %s)", i.CommitHash, i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// CorpusCompatible reports whether a corpus written by producer can be read
// by this build. Same major version, not newer than CorpusVersion.
func CorpusCompatible(producer string) error {
	got, err := semver.NewVersion(producer)
	if err != nil {
		return errors.Wrapf(err, "invalid corpus producer version %q", producer)
	}
	want := semver.MustParse(CorpusVersion)

	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0, <= %s", want.Major(), want.String()))
	if err != nil {
		return errors.AssertionFailedf("bad corpus constraint: %v", err)
	}
	if !constraint.Check(got) {
		return errors.WithHintf(
			errors.Newf("corpus produced by version %s is not readable by %s", got, want),
			"regenerate the database with a hammer build using corpus version %d.x", got.Major(),
		)
	}
	return nil
}
