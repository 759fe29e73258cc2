package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimAcquireRelease(t *testing.T) {
	r := NewClaimRegistry()
	tile := Claim{Scope: ScopeTile, Name: "CLB"}
	row := Claim{Scope: ScopeRow, Name: "R3"}

	release, err := r.Acquire(context.Background(), "job-a", []Claim{tile, row, tile})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Held())
	holder, ok := r.Holder(tile)
	assert.True(t, ok)
	assert.Equal(t, "job-a", holder)

	release()
	release()
	assert.Equal(t, 0, r.Held())
	_, ok = r.Holder(tile)
	assert.False(t, ok)

	// No claims is a no-op
	release, err = r.Acquire(context.Background(), "job-b", nil)
	require.NoError(t, err)
	release()
}

func TestClaimAcquireHonorsContext(t *testing.T) {
	r := NewClaimRegistry()
	a := Claim{Scope: ScopeGlobal, Name: "a"}
	b := Claim{Scope: ScopeGlobal, Name: "b"}

	release, err := r.Acquire(context.Background(), "owner", []Claim{b})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, "waiter", []Claim{a, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The partially taken claim was given back
	_, held := r.Holder(a)
	assert.False(t, held)
	holder, _ := r.Holder(b)
	assert.Equal(t, "owner", holder)
}

func TestClaimExclusionUnderLoad(t *testing.T) {
	r := NewClaimRegistry()
	x := Claim{Scope: ScopeInstance, Name: "CLB_X1Y1"}
	y := Claim{Scope: ScopeInstance, Name: "CLB_X2Y1"}

	var inX, inY atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Opposite request orders must not deadlock
			claims := []Claim{x, y}
			if i%2 == 1 {
				claims = []Claim{y, x}
			}
			for range 20 {
				release, err := r.Acquire(context.Background(), "worker", claims)
				if err != nil {
					violations.Add(1)
					return
				}
				if inX.Add(1) != 1 || inY.Add(1) != 1 {
					violations.Add(1)
				}
				inX.Add(-1)
				inY.Add(-1)
				release()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, violations.Load())
	assert.Equal(t, 0, r.Held())
}

func TestClaimString(t *testing.T) {
	c := Claim{Scope: ScopeRow, Name: "R7"}
	assert.Equal(t, "row:R7", c.String())
	assert.Negative(t, Claim{Scope: ScopeGlobal, Name: "z"}.Compare(c))
	assert.True(t, IsValidScope("instance"))
	assert.False(t, IsValidScope("site"))
}
