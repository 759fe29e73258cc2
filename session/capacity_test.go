package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeWorkerCount(t *testing.T) {
	tests := []struct {
		name        string
		cpus        int
		availableGB float64
		perBuildGB  float64
		want        int
	}{
		{"cpu bound", 4, 64, 2, 4},
		{"memory bound", 32, 10, 2, 4},
		{"below buffer", 8, 1.5, 2, 1},
		{"tiny host", 1, 3, 4, 1},
		{"no memory limit", 12, 0, 0, 12},
		{"zero cpus", 0, 64, 2, 1},
		{"capped", 256, 4096, 1, MaxRecommendedWorkers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeWorkerCount(tt.cpus, tt.availableGB, tt.perBuildGB))
		})
	}
}

func TestRecommendWorkers(t *testing.T) {
	n := RecommendWorkers(2.0)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, MaxRecommendedWorkers)
}
