// Package plan loads fuzz plans: YAML documents that name the parts of a
// family, the jobs to build and the collection steps that turn the resulting
// diffs into tile database items.
package plan

import (
	"bytes"
	"io"
	"os"
	"path"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/teranos/hammer/collector"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
	"github.com/teranos/hammer/session"
)

// Plan describes one fuzzing pass over a device family
type Plan struct {
	Family   string         `yaml:"family"`
	Parts    []string       `yaml:"parts"`
	Baseline session.Recipe `yaml:"baseline,omitempty"`
	Jobs     []session.Job  `yaml:"jobs"`
	Collect  []Directive    `yaml:"collect"`
}

// Load reads and validates the plan at path
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %s", path)
	}
	return p, nil
}

// Parse decodes and validates a plan. Unknown fields are rejected.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan is empty")
		}
		return nil, errors.Wrap(err, "failed to parse plan")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal renders the plan as YAML
func (p *Plan) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal plan")
	}
	return data, nil
}

// Validate checks the plan is self-consistent: every job is valid, job keys
// are unique and every collect step consumes only keys some job produces.
func (p *Plan) Validate() error {
	if p.Family == "" {
		return errors.New("plan needs a family")
	}
	if len(p.Parts) == 0 {
		return errors.Newf("plan %s lists no parts", p.Family)
	}
	if err := p.Baseline.Validate(); err != nil {
		return errors.Wrap(err, "baseline")
	}

	produced := make(map[feature.Key]bool, len(p.Jobs))
	for i, job := range p.Jobs {
		if err := job.Validate(); err != nil {
			return errors.Wrapf(err, "job %d", i)
		}
		if produced[job.Key] {
			return errors.Newf("job %d: feature %s appears twice", i, job.Key)
		}
		produced[job.Key] = true
	}

	held := make(map[feature.Key]bool)
	for i, d := range p.Collect {
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "collect step %d", i)
		}
		for _, k := range d.Keys() {
			if !produced[k] {
				return errors.WithHint(
					errors.Newf("collect step %d (%s): no job produces %s", i, d, k),
					"add a job with this key or fix the collect step",
				)
			}
		}
		switch d.Op {
		case OpHold:
			held[d.key(d.Val)] = true
		case OpReleaseEmpty:
			if !held[d.key(d.Val)] {
				return errors.Newf("collect step %d: release_empty of %s without an earlier hold", i, d.key(d.Val))
			}
		}
	}
	return nil
}

// PartsMatching returns the plan parts selected by filters, in plan order.
// Filters are path.Match patterns; no filters selects every part.
func (p *Plan) PartsMatching(filters []string) ([]string, error) {
	if len(filters) == 0 {
		return slices.Clone(p.Parts), nil
	}

	var selected []string
	matched := make([]bool, len(filters))
	for _, part := range p.Parts {
		hit := false
		for i, f := range filters {
			ok, err := path.Match(f, part)
			if err != nil {
				return nil, errors.Wrapf(err, "bad part filter %q", f)
			}
			if ok {
				matched[i] = true
				hit = true
			}
		}
		if hit {
			selected = append(selected, part)
		}
	}

	for i, f := range filters {
		if !matched[i] {
			return nil, errors.WithHintf(
				errors.NewNotFoundError("no %s part matches %q", p.Family, f),
				"known parts: %v", p.Parts,
			)
		}
	}
	return selected, nil
}

// SessionConfig returns the session parameters for one part
func (p *Plan) SessionConfig(part string, base session.Config) session.Config {
	cfg := base
	cfg.Part = part
	cfg.Baseline = p.Baseline
	return cfg
}

// Enqueue adds every job of the plan to s
func (p *Plan) Enqueue(s *session.Session) error {
	for _, job := range p.Jobs {
		if _, err := s.Add(job); err != nil {
			return errors.Wrapf(err, "enqueue %s", job.Key)
		}
	}
	return nil
}

// Apply runs the collect steps in order, then checks nothing was left
// unclassified.
func (p *Plan) Apply(c *collector.Collector) error {
	for i, d := range p.Collect {
		if err := d.Apply(c); err != nil {
			return errors.Wrapf(err, "collect step %d (%s)", i, d)
		}
	}
	return c.Finish()
}
