package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProgress struct {
	mu       sync.Mutex
	stages   map[string]int
	maxDone  map[string]int
	current  string
	summary  map[string]interface{}
	overflow bool
}

func newRecordingProgress() *recordingProgress {
	return &recordingProgress{stages: make(map[string]int), maxDone: make(map[string]int)}
}

func (p *recordingProgress) EmitStage(stage string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = stage
	p.stages[stage] = total
}

func (p *recordingProgress) EmitProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done > total {
		p.overflow = true
	}
	if done > p.maxDone[p.current] {
		p.maxDone[p.current] = done
	}
}

func (p *recordingProgress) EmitComplete(summary map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary = summary
}

func TestRunEmitsProgress(t *testing.T) {
	progress := newRecordingProgress()
	cfg := baseConfig()
	cfg.Progress = progress

	s := newTestSession(t, &fakeBackend{}, cfg,
		oneRecipe(key("FFX", "INIT1"), setBit(5)),
		oneRecipe(key("FFY", "INIT1"), setBit(6)),
		Job{Key: key("LUT", "INIT"), Recipes: []Recipe{NewRecipe(setBit(7)), NewRecipe(setBit(8))}},
	)
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	// 4 recipes x 2 trials
	assert.Equal(t, 8, progress.stages[StageBuild])
	assert.Equal(t, 8, progress.maxDone[StageBuild])
	assert.Equal(t, 3, progress.stages[StageCollect])
	assert.Equal(t, 3, progress.maxDone[StageCollect])
	assert.False(t, progress.overflow)
	require.NotNil(t, progress.summary)
	assert.Equal(t, 3, progress.summary["features"])
	assert.Equal(t, 8, progress.summary["builds"])
}
