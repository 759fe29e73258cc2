package session

import (
	"context"

	"github.com/teranos/hammer/diff"
)

// BaselineLabel is the build label of a trial's baseline design
const BaselineLabel = "baseline"

// BuildRequest describes one toolchain invocation
type BuildRequest struct {
	RunID  string
	Part   string
	Trial  int
	Seed   uint64 // randomizes don't-care content; equal within a trial
	Label  string // BaselineLabel, or the feature key and recipe index
	Recipe Recipe // already merged onto the baseline
}

// Backend turns a recipe into a configuration image. Implementations must be
// safe for concurrent use.
type Backend interface {
	Build(ctx context.Context, req BuildRequest) (diff.Image, error)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, req BuildRequest) (diff.Image, error)

// Build calls f
func (f BackendFunc) Build(ctx context.Context, req BuildRequest) (diff.Image, error) {
	return f(ctx, req)
}
