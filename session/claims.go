package session

import (
	"context"
	"slices"
	"sync"

	"github.com/teranos/hammer/errors"
)

// ClaimRegistry serializes jobs that share a claim. One registry lives per
// run and is handed to every build; it is never process-global.
type ClaimRegistry struct {
	mu      sync.Mutex
	slots   map[Claim]chan struct{}
	holders map[Claim]string
}

// NewClaimRegistry creates an empty registry
func NewClaimRegistry() *ClaimRegistry {
	return &ClaimRegistry{
		slots:   make(map[Claim]chan struct{}),
		holders: make(map[Claim]string),
	}
}

func (r *ClaimRegistry) slot(c Claim) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.slots[c]
	if !ok {
		ch = make(chan struct{}, 1)
		r.slots[c] = ch
	}
	return ch
}

// Acquire blocks until holder owns every claim or ctx is done. Claims are
// taken in sorted order so two jobs with overlapping claim sets cannot
// deadlock. The returned release func is safe to call more than once.
func (r *ClaimRegistry) Acquire(ctx context.Context, holder string, claims []Claim) (func(), error) {
	sorted := slices.SortedFunc(slices.Values(claims), Claim.Compare)
	sorted = slices.CompactFunc(sorted, func(a, b Claim) bool { return a == b })

	taken := make([]Claim, 0, len(sorted))
	releaseTaken := func() {
		for i := len(taken) - 1; i >= 0; i-- {
			r.release(taken[i])
		}
	}

	for _, c := range sorted {
		ch := r.slot(c)
		select {
		case ch <- struct{}{}:
			r.mu.Lock()
			r.holders[c] = holder
			r.mu.Unlock()
			taken = append(taken, c)
		case <-ctx.Done():
			releaseTaken()
			return nil, errors.Wrapf(ctx.Err(), "%s waiting for claim %s", holder, c)
		}
	}

	var once sync.Once
	return func() { once.Do(releaseTaken) }, nil
}

func (r *ClaimRegistry) release(c Claim) {
	r.mu.Lock()
	delete(r.holders, c)
	ch := r.slots[c]
	r.mu.Unlock()
	<-ch
}

// Holder returns the current holder of c
func (r *ClaimRegistry) Holder(c Claim) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holders[c]
	return h, ok
}

// Held returns the number of claims currently held
func (r *ClaimRegistry) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
