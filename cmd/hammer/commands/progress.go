package commands

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/teranos/hammer/session"
)

// progressBar draws one pterm progress bar per session stage
type progressBar struct {
	part string

	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

var _ session.ProgressEmitter = (*progressBar)(nil)

func newProgressBar(part string) session.ProgressEmitter {
	return &progressBar{part: part}
}

func (p *progressBar) EmitStage(stage string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if total == 0 {
		return
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(p.part + " " + stage).
		WithRemoveWhenDone(true).
		Start()
	if err == nil {
		p.bar = bar
	}
}

func (p *progressBar) EmitProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && done > p.bar.Current {
		p.bar.Add(done - p.bar.Current)
	}
}

func (p *progressBar) EmitComplete(summary map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Close removes a bar left running by a failed run
func (p *progressBar) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressBar) stopLocked() {
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
}
