package session

import (
	"cmp"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/entity"
	"github.com/teranos/hammer/errors"
	"github.com/teranos/hammer/feature"
)

// Scope is the extent of a resource claim
type Scope string

const (
	ScopeTile     Scope = "tile"     // a tile class
	ScopeRow      Scope = "row"      // a row of tiles
	ScopeInstance Scope = "instance" // one tile instance
	ScopeGlobal   Scope = "global"   // the whole device
)

// IsValidScope reports whether s names a known claim scope
func IsValidScope(s string) bool {
	switch Scope(s) {
	case ScopeTile, ScopeRow, ScopeInstance, ScopeGlobal:
		return true
	default:
		return false
	}
}

// Claim is a named resource a job holds while it builds. Jobs sharing a
// claim never build at the same time.
type Claim struct {
	Scope Scope  `yaml:"scope"`
	Name  string `yaml:"name"`
}

// String formats the claim as scope:name
func (c Claim) String() string {
	return fmt.Sprintf("%s:%s", c.Scope, c.Name)
}

// Compare orders claims by scope, then name
func (c Claim) Compare(o Claim) int {
	return cmp.Or(cmp.Compare(c.Scope, o.Scope), cmp.Compare(c.Name, o.Name))
}

// ExpectKind is the kind of side-effect assertion a job makes
type ExpectKind string

const (
	ExpectNonEmpty ExpectKind = "non_empty" // every diff touches at least one bit
	ExpectBits     ExpectKind = "bits"      // every diff touches exactly Bits bits
	ExpectFact     ExpectKind = "fact"      // every mutated image reports Fact
)

// Expectation is a check run on a job's diffs before they are recorded
type Expectation struct {
	Kind ExpectKind `yaml:"kind"`
	Bits int        `yaml:"bits,omitempty"`
	Fact string     `yaml:"fact,omitempty"`
}

// Validate checks that the expectation is well formed
func (e Expectation) Validate() error {
	switch e.Kind {
	case ExpectNonEmpty:
		return nil
	case ExpectBits:
		if e.Bits < 1 {
			return errors.Newf("bits expectation needs bits >= 1, got %d", e.Bits)
		}
		return nil
	case ExpectFact:
		if e.Fact == "" {
			return errors.New("fact expectation names no fact")
		}
		return nil
	}
	return errors.Newf("unknown expectation kind %q", e.Kind)
}

// check runs the expectation against the agreed diffs and every mutated image
func (e Expectation) check(key feature.Key, diffs []diff.Diff, images [][]diff.Image) error {
	switch e.Kind {
	case ExpectNonEmpty:
		for i, d := range diffs {
			if d.IsEmpty() {
				return errors.NewDiffConflict("feature %s recipe %d produced an empty diff", key, i)
			}
		}
	case ExpectBits:
		for i, d := range diffs {
			if d.Len() != e.Bits {
				return errors.WithDetailf(
					errors.NewDiffConflict("feature %s recipe %d touched %d bit(s), expected %d", key, i, d.Len(), e.Bits),
					"diff: %s", d,
				)
			}
		}
	case ExpectFact:
		for trial, row := range images {
			for i, img := range row {
				if !img.HasFact(e.Fact) {
					return errors.NewDiffConflict("feature %s recipe %d trial %d: toolchain did not report %q", key, i, trial, e.Fact)
				}
			}
		}
	}
	return nil
}

// Job declares one fact under test. A job with N recipes yields N diffs, in
// recipe order.
type Job struct {
	Key     feature.Key   `yaml:"key"`
	Recipes []Recipe      `yaml:"recipes"`
	Claims  []Claim       `yaml:"claims,omitempty"`
	Expect  []Expectation `yaml:"expect,omitempty"`
}

// JobId indexes the jobs of one session
type JobId = entity.Id[Job]

// Validate checks that the job can be scheduled
func (j Job) Validate() error {
	if j.Key.Tile == "" || j.Key.Bel == "" || j.Key.Attr == "" {
		return errors.Newf("job key %s is incomplete", j.Key)
	}
	if len(j.Recipes) == 0 {
		return errors.Newf("job %s has no recipes", j.Key)
	}
	for i, r := range j.Recipes {
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "job %s recipe %d", j.Key, i)
		}
	}
	for _, c := range j.Claims {
		if !IsValidScope(string(c.Scope)) || c.Name == "" {
			return errors.Newf("job %s has invalid claim %s", j.Key, c)
		}
	}
	for _, e := range j.Expect {
		if err := e.Validate(); err != nil {
			return errors.Wrapf(err, "job %s", j.Key)
		}
	}
	return nil
}

// JobStatus is the state of a job within one run
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDispatched  JobStatus = "dispatched"
	JobStatusBuilt       JobStatus = "built"
	JobStatusCollected   JobStatus = "collected"
	JobStatusConsistent  JobStatus = "consistent"
	JobStatusConflicting JobStatus = "conflicting"
)

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusConsistent || s == JobStatusConflicting
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusDispatched},
	JobStatusDispatched: {JobStatusBuilt},
	JobStatusBuilt:      {JobStatusCollected},
	JobStatusCollected:  {JobStatusConsistent, JobStatusConflicting},
}

// jobRecord is the run-time state of one job
type jobRecord struct {
	job Job

	mu        sync.Mutex
	status    JobStatus
	pending   int            // builds not yet finished
	images    [][]diff.Image // [trial][recipe]
	err       error
	buildTime time.Duration // summed over every build of the job
}

func newJobRecord(job Job, trials int) *jobRecord {
	images := make([][]diff.Image, trials)
	for t := range images {
		images[t] = make([]diff.Image, len(job.Recipes))
	}
	return &jobRecord{
		job:     job,
		status:  JobStatusPending,
		pending: trials * len(job.Recipes),
		images:  images,
	}
}

// transition moves the job to status `to`. Caller holds r.mu.
func (r *jobRecord) transition(to JobStatus) error {
	for _, next := range jobTransitions[r.status] {
		if next == to {
			r.status = to
			return nil
		}
	}
	return errors.AssertionFailedf("job %s: illegal transition %s -> %s", r.job.Key, r.status, to)
}

// dispatch marks the start of the job's first build
func (r *jobRecord) dispatch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != JobStatusPending {
		return nil
	}
	return r.transition(JobStatusDispatched)
}

// built stores one build result and moves the job to built after the last one
func (r *jobRecord) built(trial, recipe int, img diff.Image, took time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == 0 {
		return errors.AssertionFailedf("job %s: more builds finished than scheduled", r.job.Key)
	}
	r.images[trial][recipe] = img
	r.buildTime += took
	r.pending--
	if r.pending > 0 {
		return nil
	}
	return r.transition(JobStatusBuilt)
}

func (r *jobRecord) advance(to JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(to)
}

// conflict marks the job conflicting and remembers why
func (r *jobRecord) conflict(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r.transition(JobStatusConflicting)
}

// JobReport is the outcome of one job
type JobReport struct {
	Id        JobId
	Key       feature.Key
	Status    JobStatus
	Builds    int
	BuildTime time.Duration
	Error     string
}

func (r *jobRecord) report(id JobId) JobReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := JobReport{
		Id:        id,
		Key:       r.job.Key,
		Status:    r.status,
		Builds:    len(r.images)*len(r.job.Recipes) - r.pending,
		BuildTime: r.buildTime,
	}
	if r.err != nil {
		rep.Error = r.err.Error()
	}
	return rep
}
