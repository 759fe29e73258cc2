package session

import "sync/atomic"

// ProgressEmitter receives the progress of a run. EmitProgress may be called
// from several workers at once.
type ProgressEmitter interface {
	// EmitStage announces a stage and the number of steps it has
	EmitStage(stage string, total int)

	// EmitProgress reports done of total steps of the current stage
	EmitProgress(done, total int)

	// EmitComplete announces a successful run with its summary
	EmitComplete(summary map[string]interface{})
}

// Run stages
const (
	StageBuild   = "build"
	StageCollect = "collect"
)

type progressCounter struct {
	emit  ProgressEmitter
	total int
	done  atomic.Int64
}

func newProgressCounter(emit ProgressEmitter) *progressCounter {
	return &progressCounter{emit: emit}
}

func (p *progressCounter) stage(name string, total int) {
	if p.emit == nil {
		return
	}
	p.total = total
	p.done.Store(0)
	p.emit.EmitStage(name, total)
}

func (p *progressCounter) step() {
	if p.emit == nil {
		return
	}
	p.emit.EmitProgress(int(p.done.Add(1)), p.total)
}

func (p *progressCounter) complete(summary map[string]interface{}) {
	if p.emit != nil {
		p.emit.EmitComplete(summary)
	}
}
